package resolver

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fruitsalade/postfs/pkg/models"
)

// categoryOrder fixes the order tag categories are rendered in. Unknown
// categories follow, sorted by name.
var categoryOrder = []string{
	"artist", "copyright", "character", "species",
	"general", "lore", "meta", "invalid",
}

var sizeUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// HumanSize renders n with binary prefixes, dividing by 1024 while the
// quotient stays above 1.
func HumanSize(n int64) string {
	v := float64(n)
	unit := 0
	for v/1024 > 1 && unit < len(sizeUnits)-1 {
		v /= 1024
		unit++
	}
	if unit == 0 {
		return fmt.Sprintf("%d %s", n, sizeUnits[0])
	}
	return fmt.Sprintf("%.2f %s", v, sizeUnits[unit])
}

// PostURL returns the canonical page URL of a post.
func PostURL(baseURL string, id int64) string {
	return fmt.Sprintf("%s/posts/%d", strings.TrimSuffix(baseURL, "/"), id)
}

// FormatInfo renders the human-readable info text of a post.
func FormatInfo(baseURL string, p models.Snapshot) string {
	var b strings.Builder

	fmt.Fprintf(&b, "ID: %d\n", p.ID)
	fmt.Fprintf(&b, "URL: %s\n", PostURL(baseURL, p.ID))
	desc := strings.TrimSpace(p.Description)
	if desc == "" {
		desc = "(none)"
	}
	fmt.Fprintf(&b, "Description: %s\n", desc)
	b.WriteString("\n")

	for _, category := range orderedCategories(p.Tags) {
		tags := p.Tags[category]
		if len(tags) == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s:\n", title(category))
		for _, tag := range tags {
			fmt.Fprintf(&b, "  %s\n", tag)
		}
	}

	if len(p.Sources) > 0 {
		b.WriteString("Sources:\n")
		for _, src := range p.Sources {
			fmt.Fprintf(&b, "  %s\n", src)
		}
	}

	fmt.Fprintf(&b, "Rating: %s\n", p.Rating)
	fmt.Fprintf(&b, "Score: %d (+%d / -%d)\n", p.Score.Total, p.Score.Up, abs(p.Score.Down))

	file := p.Variants[models.VariantFile]
	fmt.Fprintf(&b, "Size: %s\n", HumanSize(file.Size))
	if file.Width > 0 && file.Height > 0 {
		fmt.Fprintf(&b, "Dimensions: %dx%d\n", file.Width, file.Height)
	}

	fmt.Fprintf(&b, "Created: %s\n", formatTime(p.CreatedAt))
	fmt.Fprintf(&b, "Updated: %s\n", formatTime(p.UpdatedAt))

	if p.ParentID != nil {
		fmt.Fprintf(&b, "Parent: %d\n", *p.ParentID)
	}
	if len(p.Children) > 0 {
		ids := make([]string, len(p.Children))
		for i, id := range p.Children {
			ids[i] = strconv.FormatInt(id, 10)
		}
		fmt.Fprintf(&b, "Children: %s\n", strings.Join(ids, ", "))
	}
	if len(p.Pools) > 0 {
		fmt.Fprintf(&b, "Pools: %s\n", strings.Join(p.Pools, ", "))
	}

	return b.String()
}

func orderedCategories(tags map[string][]string) []string {
	known := make(map[string]bool, len(categoryOrder))
	out := make([]string, 0, len(tags))
	for _, c := range categoryOrder {
		known[c] = true
		if _, ok := tags[c]; ok {
			out = append(out, c)
		}
	}
	var extra []string
	for c := range tags {
		if !known[c] {
			extra = append(extra, c)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.Format(time.RFC3339)
}

// The catalog reports down votes as a negative number.
func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
