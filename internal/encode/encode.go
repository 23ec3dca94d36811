// Package encode selects the partner file format for a declaration.
package encode

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cleared-dev/entrysync/internal/declxml"
	"github.com/cleared-dev/entrysync/internal/fixedwidth"
	"github.com/cleared-dev/entrysync/internal/model"
)

// Settings are the partner values an encoder may need.
type Settings struct {
	Location       *time.Location
	Namespace      string
	SchemaLocation string
}

// Encoder turns a declaration into file bytes.
type Encoder interface {
	Encode(decl *model.Declaration, s Settings) ([]byte, error)
	Format() string
	Extension() string
}

// Registry holds named encoders.
type Registry struct {
	encoders map[string]Encoder
}

// NewRegistry creates an empty encoder registry.
func NewRegistry() *Registry {
	return &Registry{encoders: make(map[string]Encoder)}
}

// Register adds an encoder. Panics on duplicate format.
func (r *Registry) Register(e Encoder) {
	key := strings.ToLower(e.Format())
	if _, ok := r.encoders[key]; ok {
		panic("duplicate encoder format: " + key)
	}
	r.encoders[key] = e
}

// Get returns the encoder for format, or nil.
func (r *Registry) Get(format string) Encoder {
	return r.encoders[strings.ToLower(format)]
}

// Lookup is Get with an error for unknown formats.
func (r *Registry) Lookup(format string) (Encoder, error) {
	if e := r.Get(format); e != nil {
		return e, nil
	}
	return nil, fmt.Errorf("unknown file format %q (known: %s)", format, strings.Join(r.Formats(), ", "))
}

// Formats lists registered format names in sorted order.
func (r *Registry) Formats() []string {
	names := make([]string, 0, len(r.encoders))
	for k := range r.encoders {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry returns a registry with the built-in encoders.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(FixedWidth{})
	r.Register(XML{})
	return r
}

// FixedWidth renders the billing flat file.
type FixedWidth struct{}

func (FixedWidth) Format() string    { return "fixed_width" }
func (FixedWidth) Extension() string { return "dat" }

func (FixedWidth) Encode(decl *model.Declaration, s Settings) ([]byte, error) {
	return fixedwidth.Encode(decl, fixedwidth.BillingLayout(s.Location))
}

// XML renders the declaration document.
type XML struct{}

func (XML) Format() string    { return "xml" }
func (XML) Extension() string { return "xml" }

func (XML) Encode(decl *model.Declaration, s Settings) ([]byte, error) {
	return declxml.EncodeBytes(decl, declxml.Options{
		Namespace:      s.Namespace,
		SchemaLocation: s.SchemaLocation,
		Location:       s.Location,
		Indent:         2,
	})
}
