package schema

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

type structureDefinition struct {
	ResourceType string `json:"resourceType"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	Kind         string `json:"kind"`
	Abstract     bool   `json:"abstract"`
	Derivation   string `json:"derivation"`
	Snapshot     struct {
		Element []struct {
			Path             string `json:"path"`
			Max              string `json:"max"`
			ContentReference string `json:"contentReference"`
			Type             []struct {
				Code string `json:"code"`
			} `json:"type"`
		} `json:"element"`
	} `json:"snapshot"`
}

type bundle struct {
	ResourceType string `json:"resourceType"`
	Entry        []struct {
		Resource json.RawMessage `json:"resource"`
	} `json:"entry"`
}

// LoadStructureDefinitions reads a Bundle of StructureDefinition resources
// (e.g. profiles-resources.json) and registers every resource and
// complex-type definition found. Constraint profiles are skipped.
func (s *Service) LoadStructureDefinitions(r io.Reader) (int, error) {
	var b bundle
	if err := json.NewDecoder(r).Decode(&b); err != nil {
		return 0, fmt.Errorf("decode structure definition bundle: %w", err)
	}
	if b.ResourceType != "Bundle" {
		return 0, fmt.Errorf("decode structure definition bundle: expected Bundle, got %q", b.ResourceType)
	}

	loaded := 0
	for _, entry := range b.Entry {
		var sd structureDefinition
		if err := json.Unmarshal(entry.Resource, &sd); err != nil {
			return loaded, fmt.Errorf("decode structure definition: %w", err)
		}
		if sd.ResourceType != "StructureDefinition" || sd.Derivation == "constraint" {
			continue
		}
		if sd.Kind != "resource" && sd.Kind != "complex-type" {
			continue
		}
		s.defineFromSnapshot(&sd)
		loaded++
	}
	return loaded, nil
}

func (s *Service) defineFromSnapshot(sd *structureDefinition) {
	grouped := make(map[string]map[string]string)
	for _, el := range sd.Snapshot.Element {
		idx := strings.LastIndex(el.Path, ".")
		if idx < 0 {
			continue
		}
		parent, name := el.Path[:idx], el.Path[idx+1:]

		var types []string
		if el.ContentReference != "" {
			types = []string{strings.TrimPrefix(el.ContentReference, "#")}
		}
		for _, t := range el.Type {
			switch {
			case t.Code == "BackboneElement" || t.Code == "Element":
				types = append(types, el.Path)
			case strings.HasPrefix(t.Code, "http://hl7.org/fhirpath/System."):
				types = append(types, lowerFirst(strings.TrimPrefix(t.Code, "http://hl7.org/fhirpath/System.")))
			default:
				types = append(types, t.Code)
			}
		}
		if len(types) == 0 {
			continue
		}
		spec := strings.Join(types, "|")
		if el.Max == "*" {
			spec += "[]"
		}
		if grouped[parent] == nil {
			grouped[parent] = make(map[string]string)
		}
		grouped[parent][name] = spec
	}
	for typeName, elems := range grouped {
		s.Define(typeName, typeName == sd.Type && sd.Kind == "resource" && !sd.Abstract, elems)
	}
}
