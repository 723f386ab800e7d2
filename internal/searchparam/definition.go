// Package searchparam holds SearchParameter definitions: the built-in R4
// subset the indexer understands and any definitions loaded from a bundle.
package searchparam

import "strings"

// Type is a SearchParameter.type value.
type Type string

const (
	TypeNumber    Type = "number"
	TypeDate      Type = "date"
	TypeString    Type = "string"
	TypeToken     Type = "token"
	TypeReference Type = "reference"
	TypeComposite Type = "composite"
	TypeQuantity  Type = "quantity"
	TypeURI       Type = "uri"
	TypeSpecial   Type = "special"
)

var validTypes = map[Type]bool{
	TypeNumber:    true,
	TypeDate:      true,
	TypeString:    true,
	TypeToken:     true,
	TypeReference: true,
	TypeComposite: true,
	TypeQuantity:  true,
	TypeURI:       true,
	TypeSpecial:   true,
}

// IdentifierSuffix marks the token parameter derived from a reference
// parameter that searches Reference.identifier.
const IdentifierSuffix = ":identifier"

// Definition is a FHIR SearchParameter resource reduced to the fields the
// indexer reads.
type Definition struct {
	ResourceType string   `json:"resourceType"`
	ID           string   `json:"id,omitempty"`
	URL          string   `json:"url,omitempty"`
	Name         string   `json:"name,omitempty"`
	Status       string   `json:"status,omitempty"`
	Description  string   `json:"description,omitempty"`
	Code         string   `json:"code"`
	Base         []string `json:"base"`
	Type         Type     `json:"type"`
	Expression   string   `json:"expression,omitempty"`
	Target       []string `json:"target,omitempty"`
	Modifier     []string `json:"modifier,omitempty"`
}

// AppliesTo reports whether the definition applies to resourceType, either
// directly or through a Resource/DomainResource base.
func (d *Definition) AppliesTo(resourceType string) bool {
	for _, b := range d.Base {
		if b == resourceType || b == "Resource" || b == "DomainResource" {
			return true
		}
	}
	return false
}

// IsDerivedIdentifier reports whether d is a derived ":identifier" parameter.
func (d *Definition) IsDerivedIdentifier() bool {
	return strings.HasSuffix(d.Code, IdentifierSuffix)
}

// DeriveIdentifier returns the token parameter that searches the identifier
// of the references matched by a reference parameter.
func DeriveIdentifier(ref *Definition) *Definition {
	base := make([]string, len(ref.Base))
	copy(base, ref.Base)
	return &Definition{
		ResourceType: "SearchParameter",
		ID:           ref.ID + "-identifier",
		Name:         ref.Name + "Identifier",
		Status:       ref.Status,
		Code:         ref.Code + IdentifierSuffix,
		Base:         base,
		Type:         TypeToken,
		Expression:   "(" + ref.Expression + ").identifier",
	}
}
