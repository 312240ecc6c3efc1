package rna

import (
	"fmt"

	"github.com/brunoga/override/internal/core"
)

// ResolvePath resolves path from root. It returns the struct holding the
// addressed property, the property itself, and the item or element index
// selected by a trailing selector (-1 when there is none).
func ResolvePath(root Pointer, path string) (Pointer, *Property, int, error) {
	parts, err := core.ParsePath(path)
	if err != nil {
		return Pointer{}, nil, -1, err
	}
	if len(parts) == 0 {
		return Pointer{}, nil, -1, fmt.Errorf("%w: empty path", ErrPathNotFound)
	}

	ptr := root
	for i := 0; i < len(parts); i++ {
		part := parts[i]
		if part.IsSelector() || ptr.IsNull() {
			return Pointer{}, nil, -1, fmt.Errorf("%w: %s", ErrPathNotFound, path)
		}
		prop := ptr.FindProperty(part.Key)
		if prop == nil {
			return Pointer{}, nil, -1, fmt.Errorf("%w: %s (no property %q)", ErrPathNotFound, path, part.Key)
		}

		var sel *core.PathPart
		if i+1 < len(parts) && parts[i+1].IsSelector() {
			sel = &parts[i+1]
			i++
		}

		if i == len(parts)-1 {
			if sel == nil {
				return ptr, prop, -1, nil
			}
			idx := selectIndex(ptr, prop, *sel)
			if idx < 0 {
				return Pointer{}, nil, -1, fmt.Errorf("%w: %s (no item %s)", ErrPathNotFound, path, sel)
			}
			return ptr, prop, idx, nil
		}

		switch {
		case prop.Type == PropPointer && sel == nil:
			ptr = ptr.PointerGet(prop)
		case prop.Type == PropCollection && sel != nil:
			idx := selectIndex(ptr, prop, *sel)
			if idx < 0 {
				return Pointer{}, nil, -1, fmt.Errorf("%w: %s (no item %s)", ErrPathNotFound, path, sel)
			}
			ptr = ptr.Item(prop, idx)
		default:
			return Pointer{}, nil, -1, fmt.Errorf("%w: %s (cannot descend into %s)", ErrPathNotFound, path, prop.Identifier)
		}
	}
	return Pointer{}, nil, -1, fmt.Errorf("%w: %s", ErrPathNotFound, path)
}

func selectIndex(ptr Pointer, prop *Property, sel core.PathPart) int {
	switch {
	case sel.IsName && prop.Type == PropCollection:
		_, idx := ptr.FindItem(prop, sel.Name)
		return idx
	case sel.IsIndex && (prop.Type == PropCollection || prop.IsArray()):
		if sel.Index < ptr.Len(prop) {
			return sel.Index
		}
	}
	return -1
}

// PropertyPath returns the path of prop inside the struct at parent.
func PropertyPath(parent string, prop *Property) string {
	return core.JoinPath(parent, prop.Identifier)
}

// ItemPath returns the path of a collection item, by name when possible.
func ItemPath(collectionPath string, item Pointer, index int) string {
	if name, ok := item.Name(); ok && name != "" {
		return core.ItemPath(collectionPath, name, index)
	}
	return core.ItemPath(collectionPath, "", index)
}
