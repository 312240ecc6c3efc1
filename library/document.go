package library

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/brunoga/override/scene"
)

// Document is the on-disk description of a library file. Entities refer
// to each other by name.
type Document struct {
	Materials   []MaterialDoc   `yaml:"materials" toml:"materials" validate:"dive"`
	Meshes      []MeshDoc       `yaml:"meshes" toml:"meshes" validate:"dive"`
	Objects     []ObjectDoc     `yaml:"objects" toml:"objects" validate:"dive"`
	Collections []CollectionDoc `yaml:"collections" toml:"collections" validate:"dive"`
}

type MaterialDoc struct {
	Name      string    `yaml:"name" toml:"name" validate:"required"`
	Color     []float64 `yaml:"color" toml:"color" validate:"omitempty,len=4"`
	Roughness float64   `yaml:"roughness" toml:"roughness" validate:"min=0,max=1"`
	Metallic  float64   `yaml:"metallic" toml:"metallic" validate:"min=0,max=1"`
	Nodes     int       `yaml:"nodes" toml:"nodes" validate:"min=0"`
	Strength  float64   `yaml:"strength" toml:"strength" validate:"min=0,max=100"`
}

type MeshDoc struct {
	Name       string    `yaml:"name" toml:"name" validate:"required"`
	Vertices   []float64 `yaml:"vertices" toml:"vertices"`
	AutoSmooth bool      `yaml:"auto_smooth" toml:"auto_smooth"`
	Materials  []string  `yaml:"materials" toml:"materials" validate:"dive,required"`
}

type ObjectDoc struct {
	Name        string            `yaml:"name" toml:"name" validate:"required"`
	Mesh        string            `yaml:"mesh" toml:"mesh"`
	Parent      string            `yaml:"parent" toml:"parent"`
	Location    []float64         `yaml:"location" toml:"location" validate:"omitempty,len=3"`
	Rotation    []float64         `yaml:"rotation" toml:"rotation" validate:"omitempty,len=3"`
	Scale       []float64         `yaml:"scale" toml:"scale" validate:"omitempty,len=3"`
	Hidden      bool              `yaml:"hidden" toml:"hidden"`
	DisplayType string            `yaml:"display_type" toml:"display_type" validate:"omitempty,oneof=TEXTURED SOLID WIRE BOUNDS"`
	PassIndex   int               `yaml:"pass_index" toml:"pass_index" validate:"min=0,max=32767"`
	Modifiers   []*scene.Modifier `yaml:"modifiers" toml:"modifiers" validate:"dive"`
}

type CollectionDoc struct {
	Name     string   `yaml:"name" toml:"name" validate:"required"`
	Objects  []string `yaml:"objects" toml:"objects" validate:"dive,required"`
	Children []string `yaml:"children" toml:"children" validate:"dive,required"`
	Hidden   bool     `yaml:"hidden" toml:"hidden"`
}

var validate = validator.New()

// Decode parses a library document. The format is picked from the file
// extension of name: .toml for TOML, YAML otherwise.
func Decode(name string, data []byte) (*Document, error) {
	doc := &Document{}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".toml":
		if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(doc); err != nil {
			return nil, fmt.Errorf("library: decode %s: %w", name, err)
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(doc); err != nil {
			return nil, fmt.Errorf("library: decode %s: %w", name, err)
		}
	}
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("library: %s: %w", name, err)
	}
	return doc, nil
}

// Validate checks field constraints and that every name used by the
// document is declared once in it.
func (d *Document) Validate() error {
	if err := validate.Struct(d); err != nil {
		return err
	}

	declared := make(map[string]map[string]bool)
	declare := func(kind, name string) error {
		if declared[kind] == nil {
			declared[kind] = make(map[string]bool)
		}
		if declared[kind][name] {
			return fmt.Errorf("%s %q declared twice", kind, name)
		}
		declared[kind][name] = true
		return nil
	}
	for _, md := range d.Materials {
		if err := declare("material", md.Name); err != nil {
			return err
		}
	}
	for _, md := range d.Meshes {
		if err := declare("mesh", md.Name); err != nil {
			return err
		}
	}
	for _, od := range d.Objects {
		if err := declare("object", od.Name); err != nil {
			return err
		}
	}
	for _, cd := range d.Collections {
		if err := declare("collection", cd.Name); err != nil {
			return err
		}
	}

	check := func(kind, name, user string) error {
		if name != "" && !declared[kind][name] {
			return fmt.Errorf("%s uses unknown %s %q", user, kind, name)
		}
		return nil
	}
	for _, md := range d.Meshes {
		for _, name := range md.Materials {
			if err := check("material", name, md.Name); err != nil {
				return err
			}
		}
	}
	for _, od := range d.Objects {
		if err := check("mesh", od.Mesh, od.Name); err != nil {
			return err
		}
		if err := check("object", od.Parent, od.Name); err != nil {
			return err
		}
	}
	for _, cd := range d.Collections {
		for _, name := range cd.Objects {
			if err := check("object", name, cd.Name); err != nil {
				return err
			}
		}
		for _, name := range cd.Children {
			if err := check("collection", name, cd.Name); err != nil {
				return err
			}
		}
	}
	return nil
}
