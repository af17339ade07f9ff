// Package control holds the small writable files that parametrize catalog
// queries. Every access rewrites a file to its canonical form first.
package control

import (
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/fruitsalade/postfs/pkg/models"
)

// Control file names.
const (
	Tags = "tags"
	Page = "page"
	Size = "size"
)

// ErrUnknown is returned for names that are not control files.
var ErrUnknown = errors.New("not a control file")

// canonicalizer rewrites a buffer into its validated form.
type canonicalizer func([]byte) []byte

var rules = map[string]canonicalizer{
	Tags: canonicalTags,
	Page: canonicalPage,
	Size: canonicalSize,
}

// Store holds the control file buffers. A single mutex serializes every
// read-modify-write so canonicalization never interleaves with a write.
type Store struct {
	mu    sync.Mutex
	files map[string][]byte
}

// New creates a store with default contents.
func New() *Store {
	return &Store{
		files: map[string][]byte{
			Tags: []byte("\n"),
			Page: []byte("1\n"),
			Size: []byte(string(models.DefaultVariant) + "\n"),
		},
	}
}

// IsControl reports whether name is a control file.
func IsControl(name string) bool {
	_, ok := rules[name]
	return ok
}

// Names returns the control file names, sorted.
func Names() []string {
	names := make([]string, 0, len(rules))
	for name := range rules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// canonicalize must be called with the lock held.
func (s *Store) canonicalize(name string) ([]byte, error) {
	rule, ok := rules[name]
	if !ok {
		return nil, ErrUnknown
	}
	buf := rule(s.files[name])
	s.files[name] = buf
	return buf, nil
}

// Read canonicalizes the file, persists the canonical form, and returns a
// copy of it.
func (s *Store) Read(name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, err := s.canonicalize(name)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), buf...), nil
}

// Size returns the length of the canonical buffer.
func (s *Store) Size(name string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, err := s.canonicalize(name)
	if err != nil {
		return 0, err
	}
	return len(buf), nil
}

// RawSize returns the length of the buffer as last written, without
// canonicalizing it. A truncate that is about to be followed by a write
// must not see the default contents reappear.
func (s *Store) RawSize(name string) (int, error) {
	if !IsControl(name) {
		return 0, ErrUnknown
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files[name]), nil
}

// Write splices data into the buffer at offset, overwriting the overlapping
// region and keeping whatever lies past offset+len(data). An offset beyond
// the end appends.
func (s *Store) Write(name string, offset int64, data []byte) (int, error) {
	if !IsControl(name) {
		return 0, ErrUnknown
	}
	if offset < 0 {
		return 0, errors.New("negative offset")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	buf := s.files[name]
	off := int(offset)
	if off > len(buf) {
		off = len(buf)
	}
	end := off + len(data)

	out := make([]byte, 0, max(len(buf), end))
	out = append(out, buf[:off]...)
	out = append(out, data...)
	if end < len(buf) {
		out = append(out, buf[end:]...)
	}
	s.files[name] = out
	return len(data), nil
}

// Truncate shortens the buffer to size. Sizes past the end leave it as is.
func (s *Store) Truncate(name string, size int64) error {
	if !IsControl(name) {
		return ErrUnknown
	}
	if size < 0 {
		return errors.New("negative size")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	buf := s.files[name]
	if int(size) < len(buf) {
		s.files[name] = append([]byte(nil), buf[:size]...)
	}
	return nil
}

// Query returns the tag query: whitespace-separated terms joined by single
// spaces.
func (s *Store) Query() string {
	buf, _ := s.Read(Tags)
	return strings.Join(strings.Fields(string(buf)), " ")
}

// PageNumber returns the canonical page number.
func (s *Store) PageNumber() int {
	buf, _ := s.Read(Page)
	n, err := strconv.Atoi(strings.TrimSpace(string(buf)))
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// Variant returns the selected media variant.
func (s *Store) Variant() models.Variant {
	buf, _ := s.Read(Size)
	v, ok := models.ParseVariant(strings.TrimSpace(string(buf)))
	if !ok {
		return models.DefaultVariant
	}
	return v
}

// canonicalTags leaves tags untouched; they are free text.
func canonicalTags(buf []byte) []byte {
	return buf
}

func canonicalPage(buf []byte) []byte {
	n, err := strconv.Atoi(strings.TrimSpace(string(buf)))
	if err != nil || n < 1 {
		n = 1
	}
	return []byte(strconv.Itoa(n) + "\n")
}

func canonicalSize(buf []byte) []byte {
	v, ok := models.ParseVariant(strings.TrimSpace(string(buf)))
	if !ok {
		v = models.DefaultVariant
	}
	return []byte(string(v) + "\n")
}
