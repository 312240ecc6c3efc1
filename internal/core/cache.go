package core

import (
	"reflect"
	"strings"
	"sync"
)

type FieldInfo struct {
	Index      int
	Name       string
	Identifier string
	Anonymous  bool
	Tag        StructTag
}

type TypeInfo struct {
	Fields         []FieldInfo
	NameFieldIndex int
}

var (
	typeCache sync.Map // map[reflect.Type]*TypeInfo
)

// GetTypeInfo returns the cached exported field layout of typ. A field's
// identifier is its json name when it has one, its Go name otherwise.
func GetTypeInfo(typ reflect.Type) *TypeInfo {
	if info, ok := typeCache.Load(typ); ok {
		return info.(*TypeInfo)
	}

	info := &TypeInfo{
		NameFieldIndex: -1,
	}
	if typ.Kind() == reflect.Struct {
		for i := 0; i < typ.NumField(); i++ {
			field := typ.Field(i)
			if !field.IsExported() {
				continue
			}
			tag := ParseTag(field)
			identifier := field.Name
			if jsonTag := field.Tag.Get("json"); jsonTag != "" {
				if name := strings.Split(jsonTag, ",")[0]; name != "" && name != "-" {
					identifier = name
				}
			}
			info.Fields = append(info.Fields, FieldInfo{
				Index:      i,
				Name:       field.Name,
				Identifier: identifier,
				Anonymous:  field.Anonymous,
				Tag:        tag,
			})
			if tag.Name && field.Type.Kind() == reflect.String {
				info.NameFieldIndex = i
			}
		}
	}

	actual, _ := typeCache.LoadOrStore(typ, info)
	return actual.(*TypeInfo)
}

// FieldByIdentifier finds a field by identifier or Go name.
func (info *TypeInfo) FieldByIdentifier(id string) (FieldInfo, bool) {
	for _, f := range info.Fields {
		if f.Identifier == id || f.Name == id {
			return f, true
		}
	}
	return FieldInfo{}, false
}
