// Package router classifies filesystem paths.
package router

import (
	"strconv"
	"strings"

	"github.com/fruitsalade/postfs/pkg/control"
)

// CollectionDir is the directory holding one entry per listed post.
const CollectionDir = "posts"

// Entry name suffixes: "<id>_info" is the formatted info text, "<id>_raw"
// the catalog metadata as JSON. A bare "<id>" is the media file.
const (
	InfoSuffix = "_info"
	RawSuffix  = "_raw"
)

// Kind is the class of a path.
type Kind int

const (
	Invalid Kind = iota
	Root
	Control
	Collection
	Post
)

func (k Kind) String() string {
	switch k {
	case Root:
		return "root"
	case Control:
		return "control"
	case Collection:
		return "collection"
	case Post:
		return "post"
	default:
		return "invalid"
	}
}

// Entry selects which file of a post a path names.
type Entry int

const (
	EntryMedia Entry = iota
	EntryInfo
	EntryRaw
)

func (e Entry) String() string {
	switch e {
	case EntryInfo:
		return "info"
	case EntryRaw:
		return "raw"
	default:
		return "media"
	}
}

// Route is the classification of one path.
type Route struct {
	Kind  Kind
	Name  string // control file name
	ID    int64  // post id
	Entry Entry
}

// Classify maps path to a Route. Anything outside the surface is Invalid.
func Classify(path string) Route {
	if path == "/" || path == "" {
		return Route{Kind: Root}
	}
	rel := strings.TrimPrefix(path, "/")

	if control.IsControl(rel) {
		return Route{Kind: Control, Name: rel}
	}
	if rel == CollectionDir || rel == CollectionDir+"/" {
		return Route{Kind: Collection}
	}

	name, ok := strings.CutPrefix(rel, CollectionDir+"/")
	if !ok {
		return Route{}
	}
	id, entry, ok := ParsePostName(name)
	if !ok {
		return Route{}
	}
	return Route{Kind: Post, ID: id, Entry: entry}
}

// ParsePostName parses a collection entry name: "<id>", "<id>_info" or
// "<id>_raw". The id must be a plain positive decimal number.
func ParsePostName(name string) (int64, Entry, bool) {
	entry := EntryMedia
	if base, ok := strings.CutSuffix(name, InfoSuffix); ok {
		name = base
		entry = EntryInfo
	} else if base, ok := strings.CutSuffix(name, RawSuffix); ok {
		name = base
		entry = EntryRaw
	}
	if name == "" || name[0] == '0' {
		return 0, 0, false
	}
	for _, r := range name {
		if r < '0' || r > '9' {
			return 0, 0, false
		}
	}
	id, err := strconv.ParseInt(name, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return id, entry, true
}

// PostName returns the collection entry name for id and entry.
func PostName(id int64, entry Entry) string {
	name := strconv.FormatInt(id, 10)
	switch entry {
	case EntryInfo:
		name += InfoSuffix
	case EntryRaw:
		name += RawSuffix
	}
	return name
}

// Join builds a child path from a parent path and a name.
func Join(parent, name string) string {
	if parent == "/" || parent == "" {
		return "/" + name
	}
	return parent + "/" + name
}
