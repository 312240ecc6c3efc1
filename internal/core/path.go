package core

import (
	"fmt"
	"strconv"
	"strings"
)

// PathPart is one step of a property path. A part is either a field
// identifier (Key) or an item selector applied to the preceding field,
// addressing an element by position (IsIndex) or by name (IsName).
type PathPart struct {
	Key     string
	Index   int
	IsIndex bool
	Name    string
	IsName  bool
}

// IsSelector reports whether the part addresses an item of the previous field.
func (p PathPart) IsSelector() bool {
	return p.IsIndex || p.IsName
}

func (p PathPart) Equals(other PathPart) bool {
	switch {
	case p.IsIndex != other.IsIndex, p.IsName != other.IsName:
		return false
	case p.IsIndex:
		return p.Index == other.Index
	case p.IsName:
		return p.Name == other.Name
	}
	return p.Key == other.Key
}

func (p PathPart) String() string {
	switch {
	case p.IsIndex:
		return "[" + strconv.Itoa(p.Index) + "]"
	case p.IsName:
		return "[" + strconv.Quote(p.Name) + "]"
	}
	return "/" + p.Key
}

// ParsePath parses a property path such as `/modifiers["Subsurf"]/levels` or
// `/location[2]`. The empty path and "/" address the root struct.
func ParsePath(path string) ([]PathPart, error) {
	if path == "" || path == "/" {
		return nil, nil
	}

	var parts []PathPart
	i := 0
	for i < len(path) {
		switch path[i] {
		case '/':
			i++
			j := i
			for j < len(path) && path[j] != '/' && path[j] != '[' {
				j++
			}
			if j == i {
				return nil, fmt.Errorf("empty segment at offset %d in path %q", i, path)
			}
			parts = append(parts, PathPart{Key: path[i:j]})
			i = j
		case '[':
			if len(parts) == 0 {
				return nil, fmt.Errorf("selector without field in path %q", path)
			}
			part, next, err := parseSelector(path, i)
			if err != nil {
				return nil, err
			}
			parts = append(parts, part)
			i = next
		default:
			return nil, fmt.Errorf("unexpected %q at offset %d in path %q", path[i], i, path)
		}
	}
	return parts, nil
}

func parseSelector(path string, start int) (PathPart, int, error) {
	rest := path[start+1:]
	if strings.HasPrefix(rest, `"`) {
		quoted, err := strconv.QuotedPrefix(rest)
		if err != nil {
			return PathPart{}, 0, fmt.Errorf("invalid item name in path %q: %w", path, err)
		}
		name, err := strconv.Unquote(quoted)
		if err != nil {
			return PathPart{}, 0, fmt.Errorf("invalid item name in path %q: %w", path, err)
		}
		end := start + 1 + len(quoted)
		if end >= len(path) || path[end] != ']' {
			return PathPart{}, 0, fmt.Errorf("unterminated selector in path %q", path)
		}
		return PathPart{Name: name, IsName: true}, end + 1, nil
	}

	end := strings.IndexByte(rest, ']')
	if end < 0 {
		return PathPart{}, 0, fmt.Errorf("unterminated selector in path %q", path)
	}
	idx, err := strconv.Atoi(rest[:end])
	if err != nil || idx < 0 {
		return PathPart{}, 0, fmt.Errorf("invalid index %q in path %q", rest[:end], path)
	}
	return PathPart{Index: idx, IsIndex: true}, start + 1 + end + 1, nil
}

// FormatPath is the inverse of ParsePath.
func FormatPath(parts []PathPart) string {
	if len(parts) == 0 {
		return ""
	}
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(p.String())
	}
	return b.String()
}

// JoinPath appends a field identifier to a path.
func JoinPath(parent, field string) string {
	if parent == "/" {
		parent = ""
	}
	return parent + "/" + field
}

// ItemPath appends an item selector to a path, by name when one is given.
func ItemPath(parent, name string, index int) string {
	if name != "" {
		return parent + "[" + strconv.Quote(name) + "]"
	}
	return parent + "[" + strconv.Itoa(index) + "]"
}

// SplitLast returns the parent path and the last part of path.
func SplitLast(path string) (string, PathPart, error) {
	parts, err := ParsePath(path)
	if err != nil {
		return "", PathPart{}, err
	}
	if len(parts) == 0 {
		return "", PathPart{}, fmt.Errorf("path is empty")
	}
	return FormatPath(parts[:len(parts)-1]), parts[len(parts)-1], nil
}

// HasPrefix reports whether path is prefix or lies underneath it.
func HasPrefix(path, prefix string) bool {
	if prefix == "" || prefix == "/" {
		return true
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	if len(path) == len(prefix) {
		return true
	}
	c := path[len(prefix)]
	return c == '/' || c == '['
}
