package router

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		path string
		want Route
	}{
		{"/", Route{Kind: Root}},
		{"/tags", Route{Kind: Control, Name: "tags"}},
		{"/page", Route{Kind: Control, Name: "page"}},
		{"/size", Route{Kind: Control, Name: "size"}},
		{"/posts", Route{Kind: Collection}},
		{"/posts/", Route{Kind: Collection}},
		{"/posts/42", Route{Kind: Post, ID: 42, Entry: EntryMedia}},
		{"/posts/42_info", Route{Kind: Post, ID: 42, Entry: EntryInfo}},
		{"/posts/42_raw", Route{Kind: Post, ID: 42, Entry: EntryRaw}},
		{"/posts/abc", Route{}},
		{"/posts/42abc", Route{}},
		{"/posts/42_inf", Route{}},
		{"/posts/42_info_info", Route{}},
		{"/posts/_info", Route{}},
		{"/posts/-1", Route{}},
		{"/posts/+1", Route{}},
		{"/posts/042", Route{}},
		{"/posts/0", Route{}},
		{"/posts/42/x", Route{}},
		{"/posts/99999999999999999999", Route{}},
		{"/tags/x", Route{}},
		{"/unknown", Route{}},
		{"/42", Route{}},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := Classify(tt.path)
			if got != tt.want {
				t.Errorf("Classify(%q) = %+v, want %+v", tt.path, got, tt.want)
			}
		})
	}
}

func TestPostName_RoundTrip(t *testing.T) {
	for _, entry := range []Entry{EntryMedia, EntryInfo, EntryRaw} {
		name := PostName(1234, entry)
		id, got, ok := ParsePostName(name)
		if !ok || id != 1234 || got != entry {
			t.Errorf("ParsePostName(%q) = %d, %v, %v", name, id, got, ok)
		}
	}
}

func TestJoin(t *testing.T) {
	if got := Join("/", "posts"); got != "/posts" {
		t.Errorf("Join(/, posts) = %q", got)
	}
	if got := Join("/posts", "42_info"); got != "/posts/42_info" {
		t.Errorf("Join(/posts, 42_info) = %q", got)
	}
}
