// postfs mounts a remote post catalog as a filesystem.
//
// Layout of the mounted tree:
//
//	/tags            tag query for listings (read/write)
//	/page            page number for listings (read/write)
//	/size            media variant: file, sample or preview (read/write)
//	/posts/          one page of the catalog, fetched on every listing
//	/posts/<id>      media of the post in the selected variant
//	/posts/<id>_info formatted metadata
//	/posts/<id>_raw  catalog metadata as JSON (not listed)
//
// Sub-commands:
//
//	postfs mount <mountpoint>   Mount filesystem
//	postfs info <id>            Print a post's info text
//	postfs ls                   Print the ids a listing would show
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fruitsalade/postfs/internal/config"
	"github.com/fruitsalade/postfs/internal/logging"
	"github.com/fruitsalade/postfs/internal/metrics"
	"github.com/fruitsalade/postfs/pkg/client"
	"github.com/fruitsalade/postfs/pkg/control"
	"github.com/fruitsalade/postfs/pkg/fuse"
	"github.com/fruitsalade/postfs/pkg/resolver"
	"github.com/fruitsalade/postfs/pkg/router"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	var configFile string

	root := &cobra.Command{
		Use:           "postfs",
		Short:         "Browse a remote post catalog as a filesystem",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "Config file (YAML or TOML)")
	pf.String("base-url", "https://e621.net", "Catalog base URL")
	pf.String("user-agent", client.DefaultUserAgent, "User-Agent sent with every request")
	pf.Int("page-limit", resolver.DefaultPageLimit, "Posts per listing")
	pf.Duration("request-timeout", 0, "Per-attempt request timeout (0 = default)")
	pf.Int("retries", 3, "Maximum attempts per catalog request")
	pf.String("log-level", "info", "Log level: debug, info, warn, error")
	pf.String("log-format", "console", "Log format: console or json")

	load := func(cmd *cobra.Command) (*config.Config, error) {
		if err := config.BindFlags(v, cmd.Flags()); err != nil {
			return nil, err
		}
		cfg, err := config.Load(v, configFile)
		if err != nil {
			return nil, err
		}
		if err := logging.Init(logging.Config{
			Level:      cfg.Log.Level,
			Format:     cfg.Log.Format,
			OutputPath: cfg.Log.Output,
		}); err != nil {
			return nil, fmt.Errorf("init logging: %w", err)
		}
		return cfg, nil
	}

	root.AddCommand(newMountCmd(load), newInfoCmd(load), newLsCmd(load))
	return root
}

type loader func(cmd *cobra.Command) (*config.Config, error)

func newSession(cfg *config.Config) (*client.Client, *resolver.Session) {
	c := client.New(cfg.ClientConfig())
	s := resolver.NewSession(c, resolver.Config{
		BaseURL:   cfg.BaseURL,
		PageLimit: cfg.PageLimit,
	})
	return c, s
}

func newMountCmd(load loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mount <mountpoint>",
		Short: "Mount the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			defer logging.Sync()
			return runMount(cmd.Context(), cfg, args[0])
		},
	}
	f := cmd.Flags()
	f.Bool("allow-other", false, "Allow other users to access the mount")
	f.Bool("debug-fuse", false, "Log every FUSE request")
	f.Duration("health-check", 0, "Catalog health check interval (0 to disable)")
	f.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	return cmd
}

func runMount(ctx context.Context, cfg *config.Config, mountPoint string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logging.Info("postfs starting",
		logging.String("catalog", cfg.BaseURL),
		logging.String("mount", mountPoint),
		logging.Int("page_limit", cfg.PageLimit),
	)

	c, session := newSession(cfg)
	postFS := fuse.NewPostFS(session, c, fuse.Config{
		AllowOther:        cfg.AllowOther,
		Debug:             cfg.DebugFUSE,
		HealthCheckPeriod: cfg.HealthCheck,
	})

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr); err != nil {
				logging.Error("metrics server failed", logging.Err(err))
			}
		}()
		logging.Info("metrics enabled", logging.String("addr", cfg.MetricsAddr))
	}

	server, err := postFS.Mount(mountPoint)
	if err != nil {
		return err
	}
	postFS.StartHealthCheck(ctx)

	logging.Info("filesystem mounted; press Ctrl+C to unmount", logging.String("mount", mountPoint))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logging.Info("unmounting")
		postFS.StopHealthCheck()
		if err := server.Unmount(); err != nil {
			logging.Error("unmount failed", logging.Err(err))
		}
	}()

	server.Wait()

	count, hits, misses := session.Cache().Stats()
	stats := postFS.GetStats()
	logging.Info("done",
		logging.Int("cached_posts", count),
		logging.Int64("cache_hits", hits),
		logging.Int64("cache_misses", misses),
		logging.Int64("reads", stats.Reads.Load()),
		logging.Int64("bytes_served", stats.BytesServed.Load()),
	)
	return nil
}

func newInfoCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "info <id>",
		Short: "Print the info text of a post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid post id %q", args[0])
			}
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			_, session := newSession(cfg)

			route := router.Route{Kind: router.Post, ID: id, Entry: router.EntryInfo}
			text, err := session.Content(cmd.Context(), route)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(text)
			return err
		},
	}
}

func newLsCmd(load loader) *cobra.Command {
	var tags string
	var page int

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "Print the entries a listing of /posts would show",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			_, session := newSession(cfg)

			controls := session.Controls()
			if _, err := controls.Write(control.Tags, 0, []byte(tags+"\n")); err != nil {
				return err
			}
			if err := controls.Truncate(control.Page, 0); err != nil {
				return err
			}
			if _, err := controls.Write(control.Page, 0, []byte(strconv.Itoa(page)+"\n")); err != nil {
				return err
			}

			entries, err := session.List(cmd.Context(), router.Route{Kind: router.Collection})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, e := range entries {
				fmt.Fprintln(out, e.Name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tags, "tags", "", "Tag query")
	cmd.Flags().IntVar(&page, "page", 1, "Page number")
	return cmd
}
