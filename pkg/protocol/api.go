// Package protocol defines the catalog API response types.
package protocol

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// PostResponse is returned by GET /posts/{id}.json
type PostResponse struct {
	Post *RawPost `json:"post"`
}

// PageResponse is returned by GET /posts.json?limit=&page=&tags=
type PageResponse struct {
	Posts []*RawPost `json:"posts"`
}

// RawPost is one catalog entry as the remote service returns it.
type RawPost struct {
	ID            int64               `json:"id"`
	CreatedAt     string              `json:"created_at"`
	UpdatedAt     string              `json:"updated_at"`
	File          FileInfo            `json:"file"`
	Preview       PreviewInfo         `json:"preview"`
	Sample        SampleInfo          `json:"sample"`
	Score         Score               `json:"score"`
	Tags          map[string][]string `json:"tags"`
	Rating        string              `json:"rating"`
	Sources       []string            `json:"sources"`
	Pools         PoolList            `json:"pools"`
	Relationships Relationships       `json:"relationships"`
	Description   string              `json:"description"`

	// Source is the object exactly as received, including fields the
	// struct does not model.
	Source json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the modeled fields and keeps a copy of data.
func (p *RawPost) UnmarshalJSON(data []byte) error {
	type plain RawPost
	if err := json.Unmarshal(data, (*plain)(p)); err != nil {
		return err
	}
	p.Source = append(json.RawMessage(nil), data...)
	return nil
}

// FileInfo describes the original upload.
type FileInfo struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Ext    string `json:"ext"`
	Size   int64  `json:"size"`
	MD5    string `json:"md5"`
	URL    string `json:"url"`
}

// PreviewInfo describes the thumbnail rendition.
type PreviewInfo struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	URL    string `json:"url"`
}

// SampleInfo describes the downscaled rendition. Has is false when the
// catalog did not generate one.
type SampleInfo struct {
	Has    bool   `json:"has"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	URL    string `json:"url"`
}

// Score holds the vote breakdown.
type Score struct {
	Up    int `json:"up"`
	Down  int `json:"down"`
	Total int `json:"total"`
}

// Relationships links a post to its parent and children.
type Relationships struct {
	ParentID          *int64  `json:"parent_id"`
	HasChildren       bool    `json:"has_children"`
	HasActiveChildren bool    `json:"has_active_children"`
	Children          []int64 `json:"children"`
}

// PoolList accepts pools as either numeric ids or names.
type PoolList []string

// UnmarshalJSON decodes a JSON array whose elements are numbers or strings.
func (p *PoolList) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*p = nil
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}

	out := make(PoolList, 0, len(items))
	for _, item := range items {
		var name string
		if err := json.Unmarshal(item, &name); err == nil {
			out = append(out, name)
			continue
		}
		var id json.Number
		if err := json.Unmarshal(item, &id); err != nil {
			return err
		}
		if _, err := strconv.ParseInt(id.String(), 10, 64); err != nil {
			return err
		}
		out = append(out, id.String())
	}
	*p = out
	return nil
}

// ErrorResponse is returned by the catalog on some failures.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}
