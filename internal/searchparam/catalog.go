package searchparam

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
)

// Catalog is a thread-safe set of search parameters keyed by base resource
// type and code.
type Catalog struct {
	mu     sync.RWMutex
	byBase map[string]map[string]*Definition
}

// NewCatalog creates an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{byBase: make(map[string]map[string]*Definition)}
}

// DefaultCatalog returns a Catalog holding DefaultDefinitions.
func DefaultCatalog() *Catalog {
	c := NewCatalog()
	for _, d := range DefaultDefinitions() {
		// defaults are known-valid
		_ = c.Add(d)
	}
	return c
}

// Add registers a definition under each of its bases, replacing any
// definition with the same code. A reference parameter also registers its
// derived ":identifier" token parameter.
func (c *Catalog) Add(d *Definition) error {
	if d.Code == "" {
		return fmt.Errorf("SearchParameter %q: code is required", d.ID)
	}
	if len(d.Base) == 0 {
		return fmt.Errorf("SearchParameter %q: base is required", d.ID)
	}
	if !validTypes[d.Type] {
		return fmt.Errorf("SearchParameter %q: invalid type %q", d.ID, d.Type)
	}
	if d.ResourceType == "" {
		d.ResourceType = "SearchParameter"
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(d)
	if d.Type == TypeReference && d.Expression != "" && !d.IsDerivedIdentifier() {
		c.put(DeriveIdentifier(d))
	}
	return nil
}

func (c *Catalog) put(d *Definition) {
	for _, b := range d.Base {
		m := c.byBase[b]
		if m == nil {
			m = make(map[string]*Definition)
			c.byBase[b] = m
		}
		m[d.Code] = d
	}
}

// Get returns the definition of code for resourceType, falling back to
// Resource and DomainResource parameters.
func (c *Catalog) Get(resourceType, code string) (*Definition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, base := range []string{resourceType, "DomainResource", "Resource"} {
		if d, ok := c.byBase[base][code]; ok {
			return d, true
		}
	}
	return nil, false
}

// ForResource returns every definition that applies to resourceType, sorted
// by code. Type-specific definitions shadow generic ones with the same code.
func (c *Catalog) ForResource(resourceType string) []*Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	merged := make(map[string]*Definition)
	for _, base := range []string{"Resource", "DomainResource", resourceType} {
		for code, d := range c.byBase[base] {
			merged[code] = d
		}
	}
	out := make([]*Definition, 0, len(merged))
	for _, d := range merged {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// HasResourceType reports whether resourceType has at least one
// type-specific definition. Generic Resource and DomainResource parameters
// do not count.
func (c *Catalog) HasResourceType(resourceType string) bool {
	if resourceType == "Resource" || resourceType == "DomainResource" {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byBase[resourceType]) > 0
}

// ResourceTypes returns the concrete resource types that have at least one
// type-specific definition.
func (c *Catalog) ResourceTypes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.byBase))
	for base := range c.byBase {
		if base == "Resource" || base == "DomainResource" {
			continue
		}
		out = append(out, base)
	}
	sort.Strings(out)
	return out
}

type bundle struct {
	ResourceType string `json:"resourceType"`
	Entry        []struct {
		Resource json.RawMessage `json:"resource"`
	} `json:"entry"`
}

// LoadBundle reads a Bundle and adds every SearchParameter entry. Other
// entries are ignored. It returns the number of definitions added.
func (c *Catalog) LoadBundle(r io.Reader) (int, error) {
	var b bundle
	if err := json.NewDecoder(r).Decode(&b); err != nil {
		return 0, fmt.Errorf("decode search parameter bundle: %w", err)
	}
	if b.ResourceType != "Bundle" {
		return 0, fmt.Errorf("decode search parameter bundle: resourceType is %q, want Bundle", b.ResourceType)
	}
	n := 0
	for i, e := range b.Entry {
		var d Definition
		if err := json.Unmarshal(e.Resource, &d); err != nil {
			return n, fmt.Errorf("entry %d: %w", i, err)
		}
		if d.ResourceType != "SearchParameter" {
			continue
		}
		if err := c.Add(&d); err != nil {
			return n, fmt.Errorf("entry %d: %w", i, err)
		}
		n++
	}
	return n, nil
}
