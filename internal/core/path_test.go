package core

import (
	"testing"
)

func TestParsePath(t *testing.T) {
	tests := []struct {
		path string
		want []PathPart
	}{
		{"", nil},
		{"/", nil},
		{"/count", []PathPart{{Key: "count"}}},
		{"/location[2]", []PathPart{{Key: "location"}, {Index: 2, IsIndex: true}}},
		{`/modifiers["Sub/surf"]/levels`, []PathPart{
			{Key: "modifiers"},
			{Name: "Sub/surf", IsName: true},
			{Key: "levels"},
		}},
		{`/items[0]/tags["a\"b"]`, []PathPart{
			{Key: "items"},
			{Index: 0, IsIndex: true},
			{Key: "tags"},
			{Name: `a"b`, IsName: true},
		}},
	}

	for _, tt := range tests {
		got, err := ParsePath(tt.path)
		if err != nil {
			t.Errorf("ParsePath(%q) failed: %v", tt.path, err)
			continue
		}
		if len(got) != len(tt.want) {
			t.Errorf("ParsePath(%q) = %+v, want %+v", tt.path, got, tt.want)
			continue
		}
		for i := range got {
			if !got[i].Equals(tt.want[i]) {
				t.Errorf("ParsePath(%q)[%d] = %+v, want %+v", tt.path, i, got[i], tt.want[i])
			}
		}
		if tt.path != "/" && FormatPath(got) != tt.path {
			t.Errorf("FormatPath(ParsePath(%q)) = %q", tt.path, FormatPath(got))
		}
	}
}

func TestParsePathErrors(t *testing.T) {
	for _, path := range []string{
		"count",
		"//count",
		"[0]",
		"/items[",
		"/items[-1]",
		`/items["open]`,
		`/items["a"`,
		"/items[x]",
	} {
		if _, err := ParsePath(path); err == nil {
			t.Errorf("ParsePath(%q) should fail", path)
		}
	}
}

func TestItemPath(t *testing.T) {
	if got := ItemPath("/modifiers", "Sub", 3); got != `/modifiers["Sub"]` {
		t.Errorf("named item path = %s", got)
	}
	if got := ItemPath("/modifiers", "", 3); got != "/modifiers[3]" {
		t.Errorf("indexed item path = %s", got)
	}
	if got := JoinPath(ItemPath("/modifiers", "Sub", 0), "levels"); got != `/modifiers["Sub"]/levels` {
		t.Errorf("joined path = %s", got)
	}
	if got := JoinPath("/", "count"); got != "/count" {
		t.Errorf("root join = %s", got)
	}
}

func TestSplitLast(t *testing.T) {
	parent, last, err := SplitLast(`/modifiers["Sub"]`)
	if err != nil {
		t.Fatalf("SplitLast failed: %v", err)
	}
	if parent != "/modifiers" || !last.IsName || last.Name != "Sub" {
		t.Errorf("SplitLast = %q, %+v", parent, last)
	}
	if _, _, err := SplitLast(""); err == nil {
		t.Error("SplitLast of empty path should fail")
	}
}

func TestHasPrefix(t *testing.T) {
	tests := []struct {
		path, prefix string
		want         bool
	}{
		{"/a/b", "/a", true},
		{"/a[0]", "/a", true},
		{"/ab", "/a", false},
		{"/a", "/a", true},
		{"/a", "", true},
	}
	for _, tt := range tests {
		if got := HasPrefix(tt.path, tt.prefix); got != tt.want {
			t.Errorf("HasPrefix(%q, %q) = %v, want %v", tt.path, tt.prefix, got, tt.want)
		}
	}
}
