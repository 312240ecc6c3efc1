package core

import (
	"reflect"
	"strconv"
	"strings"
)

// StructTag holds the options of an `override:"..."` field tag.
type StructTag struct {
	Ignore      bool
	Overridable bool
	NoOwnership bool
	Embedded    bool
	Insertion   bool
	Name        bool
	NoName      bool
	NoCompare   bool
	Loopback    bool
	NoHierarchy bool

	HasMin bool
	Min    float64
	HasMax bool
	Max    float64

	Enum []string
}

func ParseTag(field reflect.StructField) StructTag {
	tag := field.Tag.Get("override")
	if tag == "" {
		return StructTag{}
	}

	st := StructTag{}
	for _, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)
		key, value, hasValue := strings.Cut(part, "=")
		if hasValue {
			switch key {
			case "min":
				if f, err := strconv.ParseFloat(value, 64); err == nil {
					st.Min, st.HasMin = f, true
				}
			case "max":
				if f, err := strconv.ParseFloat(value, 64); err == nil {
					st.Max, st.HasMax = f, true
				}
			case "enum":
				st.Enum = strings.Split(value, "|")
			}
			continue
		}

		switch part {
		case "-":
			st.Ignore = true
		case "overridable":
			st.Overridable = true
		case "noowner":
			st.NoOwnership = true
		case "embedded":
			st.Embedded = true
		case "insert":
			st.Insertion = true
		case "name":
			st.Name = true
		case "noname":
			st.NoName = true
		case "nocompare":
			st.NoCompare = true
		case "loopback":
			st.Loopback = true
		case "nohierarchy":
			st.NoHierarchy = true
		}
	}

	return st
}

// GetNameField returns the index of the field tagged as the item name of typ.
func GetNameField(typ reflect.Type) (int, bool) {
	if typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		return -1, false
	}

	info := GetTypeInfo(typ)
	if info.NameFieldIndex != -1 {
		return info.NameFieldIndex, true
	}

	return -1, false
}
