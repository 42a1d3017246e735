// Package catalog lists the image providers, their models and the mask
// encoding each provider expects.
package catalog

import (
	_ "embed"
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"maskstudio/internal/domain"
	"maskstudio/internal/mask"
	"maskstudio/internal/providers/image"
)

//go:embed models.yaml
var builtin []byte

// Model is one provider model.
type Model struct {
	ID         string            `yaml:"id" json:"id"`
	Label      string            `yaml:"label" json:"label"`
	Operations []image.Operation `yaml:"operations" json:"operations"`
	Sizes      []string          `yaml:"sizes" json:"sizes,omitempty"`
	Default    bool              `yaml:"default" json:"default"`
}

// Supports reports whether the model serves op.
func (m Model) Supports(op image.Operation) bool {
	return slices.Contains(m.Operations, op)
}

// Provider is one catalog entry.
type Provider struct {
	Name            string          `yaml:"name" json:"name"`
	Label           string          `yaml:"label" json:"label"`
	MaskEncodingRaw string          `yaml:"mask_encoding" json:"-"`
	MaskEncoding    mask.Encoding   `yaml:"-" json:"mask_encoding"`
	EditRegionRaw   string          `yaml:"mask_edit_region" json:"-"`
	EditRegion      mask.EditRegion `yaml:"-" json:"mask_edit_region"`
	Models          []Model         `yaml:"models" json:"models"`
}

// DefaultModel returns the default model for op, falling back to the first
// model supporting it.
func (p Provider) DefaultModel(op image.Operation) (Model, bool) {
	var first *Model
	for i := range p.Models {
		m := p.Models[i]
		if !m.Supports(op) {
			continue
		}
		if m.Default {
			return m, true
		}
		if first == nil {
			first = &p.Models[i]
		}
	}
	if first != nil {
		return *first, true
	}
	return Model{}, false
}

// Catalog is the parsed provider list.
type Catalog struct {
	Providers []Provider `yaml:"providers" json:"providers"`
}

// Load parses the embedded catalog.
func Load() (*Catalog, error) {
	return Parse(builtin)
}

// Parse decodes and validates a catalog document.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}
	seen := make(map[string]struct{}, len(c.Providers))
	for i := range c.Providers {
		p := &c.Providers[i]
		p.Name = strings.ToLower(strings.TrimSpace(p.Name))
		if p.Name == "" {
			return nil, fmt.Errorf("catalog: provider %d has no name", i)
		}
		if _, dup := seen[p.Name]; dup {
			return nil, fmt.Errorf("catalog: duplicate provider %q", p.Name)
		}
		seen[p.Name] = struct{}{}
		enc, err := mask.ParseEncoding(p.MaskEncodingRaw)
		if err != nil {
			return nil, fmt.Errorf("catalog: provider %q: %w", p.Name, err)
		}
		p.MaskEncoding = enc
		region, err := mask.ParseEditRegion(p.EditRegionRaw)
		if err != nil {
			return nil, fmt.Errorf("catalog: provider %q: %w", p.Name, err)
		}
		p.EditRegion = region
		for _, m := range p.Models {
			if strings.TrimSpace(m.ID) == "" {
				return nil, fmt.Errorf("catalog: provider %q has a model without id", p.Name)
			}
		}
	}
	return &c, nil
}

// Provider looks up a provider by name.
func (c *Catalog) Provider(name string) (Provider, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, p := range c.Providers {
		if p.Name == name {
			return p, nil
		}
	}
	return Provider{}, fmt.Errorf("%w: %q", domain.ErrUnsupportedProvider, name)
}

// MaskFormat returns the encoding and edit region the named provider
// expects. Unknown providers get a binary mask that edits white pixels.
func (c *Catalog) MaskFormat(name string) (mask.Encoding, mask.EditRegion) {
	p, err := c.Provider(name)
	if err != nil {
		return mask.EncodingBinary, mask.EditOn
	}
	return p.MaskEncoding, p.EditRegion
}
