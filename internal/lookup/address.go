package lookup

import (
	"strings"

	"github.com/ehr/fhirindex/internal/platform/fhirpath"
	"github.com/ehr/fhirindex/pkg/fhirmodels"
)

type addressRow struct {
	Index      int
	Content    string
	Address    string
	City       string
	Country    string
	PostalCode string
	State      string
	Use        string
}

func (r addressRow) ordinal() int { return r.Index }

// AddressTable stores the addresses of person-like resources,
// organizations, locations and insurance plans.
type AddressTable struct {
	*globalTable[addressRow]
}

// NewAddressTable creates the "Address" table.
func NewAddressTable(env *Env) *AddressTable {
	t := &AddressTable{}
	t.globalTable = newGlobalTable(env, "address", "Address",
		isOneOf(fhirmodels.AddressResourceTypes...),
		map[string]string{
			"address":            "address",
			"address-city":       "city",
			"address-country":    "country",
			"address-postalcode": "postalCode",
			"address-state":      "state",
			"address-use":        "use",
		},
		codec[addressRow]{
			columns: []string{"index", "content", "address", "city", "country", "postalCode", "state", "use"},
			values: func(r addressRow) []interface{} {
				return []interface{}{r.Index, r.Content, nullable(r.Address), nullable(r.City),
					nullable(r.Country), nullable(r.PostalCode), nullable(r.State), nullable(r.Use)}
			},
			scan: func(scan func(dest ...interface{}) error) (addressRow, error) {
				var r addressRow
				var address, city, country, postalCode, state, use *string
				err := scan(&r.Index, &r.Content, &address, &city, &country, &postalCode, &state, &use)
				r.Address, r.City, r.Country = deref(address), deref(city), deref(country)
				r.PostalCode, r.State, r.Use = deref(postalCode), deref(state), deref(use)
				return r, err
			},
			compare: byIndex[addressRow],
		})
	t.extract = t.extractAddresses
	return t
}

func (t *AddressTable) extractAddresses(res fhirmodels.Resource) ([]addressRow, error) {
	elems, err := elements(t.env, res, "address", fhirpath.KindAddress)
	if err != nil {
		return nil, err
	}
	rows := make([]addressRow, 0, len(elems))
	for _, e := range elems {
		field := func(name string) string {
			return strings.TrimSpace(fhirmodels.StringField(e.obj, name))
		}
		rows = append(rows, addressRow{
			Index:      e.index,
			Content:    e.content,
			Address:    FormatAddress(e.obj),
			City:       field("city"),
			Country:    field("country"),
			PostalCode: field("postalCode"),
			State:      field("state"),
			Use:        field("use"),
		})
	}
	return rows, nil
}

// FormatAddress renders lines, city, state, postal code and country
// separated by ", ", falling back to the address text.
func FormatAddress(addr map[string]interface{}) string {
	parts := stringList(addr["line"])
	for _, name := range []string{"city", "state", "postalCode", "country"} {
		if s := strings.TrimSpace(fhirmodels.StringField(addr, name)); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return strings.TrimSpace(fhirmodels.StringField(addr, "text"))
	}
	return strings.Join(parts, ", ")
}
