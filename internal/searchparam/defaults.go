package searchparam

import "strings"

const urlPrefix = "http://hl7.org/fhir/SearchParameter/"

func def(id, code string, typ Type, expression string, base ...string) *Definition {
	return &Definition{
		ResourceType: "SearchParameter",
		ID:           id,
		URL:          urlPrefix + id,
		Name:         strings.ReplaceAll(id, "-", ""),
		Status:       "active",
		Code:         code,
		Base:         base,
		Type:         typ,
		Expression:   expression,
	}
}

func ref(id, code, expression string, targets []string, base ...string) *Definition {
	d := def(id, code, TypeReference, expression, base...)
	d.Target = targets
	return d
}

// union joins "<Type>.<path>" for every base type with "|".
func union(path string, base ...string) string {
	parts := make([]string, len(base))
	for i, b := range base {
		parts[i] = b + "." + path
	}
	return strings.Join(parts, " | ")
}

var (
	individuals = []string{"Patient", "Person", "Practitioner", "RelatedPerson"}
	clinical    = []string{"Condition", "Encounter", "Observation", "ServiceRequest"}
)

// DefaultDefinitions returns the R4 search parameters for the resource types
// with built-in schema support.
func DefaultDefinitions() []*Definition {
	defs := []*Definition{
		// ---------------------------------------------------------------
		// Resource
		// ---------------------------------------------------------------
		def("Resource-id", "_id", TypeToken, "Resource.id", "Resource"),
		def("Resource-lastUpdated", "_lastUpdated", TypeDate, "Resource.meta.lastUpdated", "Resource"),
		def("Resource-tag", "_tag", TypeToken, "Resource.meta.tag", "Resource"),
		def("Resource-security", "_security", TypeToken, "Resource.meta.security", "Resource"),
		def("Resource-profile", "_profile", TypeURI, "Resource.meta.profile", "Resource"),
		def("Resource-source", "_source", TypeURI, "Resource.meta.source", "Resource"),

		// ---------------------------------------------------------------
		// Shared by Patient, Person, Practitioner and RelatedPerson
		// ---------------------------------------------------------------
		def("individual-email", "email", TypeToken, union("telecom.where(system='email')", individuals...), individuals...),
		def("individual-phone", "phone", TypeToken, union("telecom.where(system='phone')", individuals...), individuals...),
		def("individual-telecom", "telecom", TypeToken, union("telecom", individuals...), individuals...),
		def("individual-gender", "gender", TypeToken, union("gender", individuals...), individuals...),
		def("individual-birthdate", "birthdate", TypeDate, union("birthDate", "Patient", "Person", "RelatedPerson"), "Patient", "Person", "RelatedPerson"),
		def("individual-phonetic", "phonetic", TypeString, union("name", individuals...), individuals...),
		def("individual-given", "given", TypeString, union("name.given", "Patient", "Practitioner"), "Patient", "Practitioner"),
		def("individual-family", "family", TypeString, union("name.family", "Patient", "Practitioner"), "Patient", "Practitioner"),

		// ---------------------------------------------------------------
		// Patient
		// ---------------------------------------------------------------
		def("Patient-name", "name", TypeString, "Patient.name", "Patient"),
		def("Patient-identifier", "identifier", TypeToken, "Patient.identifier", "Patient"),
		def("Patient-active", "active", TypeToken, "Patient.active", "Patient"),
		def("Patient-deceased", "deceased", TypeToken, "Patient.deceased.exists() and Patient.deceased != false", "Patient"),
		ref("Patient-general-practitioner", "general-practitioner", "Patient.generalPractitioner", []string{"Organization", "Practitioner"}, "Patient"),
		ref("Patient-organization", "organization", "Patient.managingOrganization", []string{"Organization"}, "Patient"),
		ref("Patient-link", "link", "Patient.link.other", []string{"Patient", "RelatedPerson"}, "Patient"),

		// ---------------------------------------------------------------
		// Person, Practitioner, RelatedPerson
		// ---------------------------------------------------------------
		def("Person-name", "name", TypeString, "Person.name", "Person"),
		def("Person-identifier", "identifier", TypeToken, "Person.identifier", "Person"),
		ref("Person-organization", "organization", "Person.managingOrganization", []string{"Organization"}, "Person"),
		ref("Person-link", "link", "Person.link.target", []string{"Patient", "Person", "Practitioner", "RelatedPerson"}, "Person"),
		ref("Person-patient", "patient", "Person.link.target.where(resolve() is Patient)", []string{"Patient"}, "Person"),
		def("Practitioner-name", "name", TypeString, "Practitioner.name", "Practitioner"),
		def("Practitioner-identifier", "identifier", TypeToken, "Practitioner.identifier", "Practitioner"),
		def("Practitioner-active", "active", TypeToken, "Practitioner.active", "Practitioner"),
		def("RelatedPerson-name", "name", TypeString, "RelatedPerson.name", "RelatedPerson"),
		def("RelatedPerson-identifier", "identifier", TypeToken, "RelatedPerson.identifier", "RelatedPerson"),
		def("RelatedPerson-relationship", "relationship", TypeToken, "RelatedPerson.relationship", "RelatedPerson"),
		ref("RelatedPerson-patient", "patient", "RelatedPerson.patient", []string{"Patient"}, "RelatedPerson"),

		// ---------------------------------------------------------------
		// Organization, Location, InsurancePlan
		// ---------------------------------------------------------------
		def("Organization-name", "name", TypeString, "Organization.name | Organization.alias", "Organization"),
		def("Organization-identifier", "identifier", TypeToken, "Organization.identifier", "Organization"),
		def("Organization-type", "type", TypeToken, "Organization.type", "Organization"),
		def("Organization-active", "active", TypeToken, "Organization.active", "Organization"),
		ref("Organization-partof", "partof", "Organization.partOf", []string{"Organization"}, "Organization"),
		def("Location-name", "name", TypeString, "Location.name | Location.alias", "Location"),
		def("Location-identifier", "identifier", TypeToken, "Location.identifier", "Location"),
		def("Location-type", "type", TypeToken, "Location.type", "Location"),
		def("Location-status", "status", TypeToken, "Location.status", "Location"),
		ref("Location-organization", "organization", "Location.managingOrganization", []string{"Organization"}, "Location"),
		ref("Location-partof", "partof", "Location.partOf", []string{"Location"}, "Location"),
		def("InsurancePlan-name", "name", TypeString, "InsurancePlan.name", "InsurancePlan"),
		def("InsurancePlan-identifier", "identifier", TypeToken, "InsurancePlan.identifier", "InsurancePlan"),
		def("InsurancePlan-status", "status", TypeToken, "InsurancePlan.status", "InsurancePlan"),
		def("InsurancePlan-type", "type", TypeToken, "InsurancePlan.type", "InsurancePlan"),
		ref("InsurancePlan-owned-by", "owned-by", "InsurancePlan.ownedBy", []string{"Organization"}, "InsurancePlan"),
		ref("InsurancePlan-administered-by", "administered-by", "InsurancePlan.administeredBy", []string{"Organization"}, "InsurancePlan"),

		// ---------------------------------------------------------------
		// Observation
		// ---------------------------------------------------------------
		def("Observation-code", "code", TypeToken, "Observation.code", "Observation"),
		def("Observation-category", "category", TypeToken, "Observation.category", "Observation"),
		def("Observation-status", "status", TypeToken, "Observation.status", "Observation"),
		def("Observation-identifier", "identifier", TypeToken, "Observation.identifier", "Observation"),
		def("Observation-date", "date", TypeDate, "Observation.effective", "Observation"),
		def("Observation-combo-code", "combo-code", TypeToken, "Observation.code | Observation.component.code", "Observation"),
		def("Observation-component-code", "component-code", TypeToken, "Observation.component.code", "Observation"),
		def("Observation-value-quantity", "value-quantity", TypeQuantity, "(Observation.value as Quantity)", "Observation"),
		def("Observation-value-concept", "value-concept", TypeToken, "(Observation.value as CodeableConcept)", "Observation"),
		def("Observation-value-string", "value-string", TypeString, "(Observation.value as string)", "Observation"),
		ref("Observation-performer", "performer", "Observation.performer", []string{"Organization", "Patient", "Practitioner", "RelatedPerson"}, "Observation"),
		ref("Observation-has-member", "has-member", "Observation.hasMember", []string{"Observation"}, "Observation"),
		ref("Observation-derived-from", "derived-from", "Observation.derivedFrom", []string{"Observation"}, "Observation"),
		ref("Observation-based-on", "based-on", "Observation.basedOn", []string{"ServiceRequest"}, "Observation"),

		// ---------------------------------------------------------------
		// Condition, Encounter, ServiceRequest
		// ---------------------------------------------------------------
		def("Condition-code", "code", TypeToken, "Condition.code", "Condition"),
		def("Condition-category", "category", TypeToken, "Condition.category", "Condition"),
		def("Condition-clinical-status", "clinical-status", TypeToken, "Condition.clinicalStatus", "Condition"),
		def("Condition-severity", "severity", TypeToken, "Condition.severity", "Condition"),
		def("Condition-identifier", "identifier", TypeToken, "Condition.identifier", "Condition"),
		def("Condition-onset-date", "onset-date", TypeDate, "(Condition.onset as dateTime)", "Condition"),
		def("Condition-recorded-date", "recorded-date", TypeDate, "Condition.recordedDate", "Condition"),
		ref("Condition-asserter", "asserter", "Condition.asserter", []string{"Patient", "Practitioner", "RelatedPerson"}, "Condition"),
		def("Encounter-status", "status", TypeToken, "Encounter.status", "Encounter"),
		def("Encounter-class", "class", TypeToken, "Encounter.class", "Encounter"),
		def("Encounter-type", "type", TypeToken, "Encounter.type", "Encounter"),
		def("Encounter-identifier", "identifier", TypeToken, "Encounter.identifier", "Encounter"),
		def("Encounter-date", "date", TypeDate, "Encounter.period", "Encounter"),
		ref("Encounter-participant", "participant", "Encounter.participant.individual", []string{"Practitioner", "RelatedPerson"}, "Encounter"),
		ref("Encounter-location", "location", "Encounter.location.location", []string{"Location"}, "Encounter"),
		ref("Encounter-service-provider", "service-provider", "Encounter.serviceProvider", []string{"Organization"}, "Encounter"),
		def("ServiceRequest-code", "code", TypeToken, "ServiceRequest.code", "ServiceRequest"),
		def("ServiceRequest-status", "status", TypeToken, "ServiceRequest.status", "ServiceRequest"),
		def("ServiceRequest-intent", "intent", TypeToken, "ServiceRequest.intent", "ServiceRequest"),
		def("ServiceRequest-category", "category", TypeToken, "ServiceRequest.category", "ServiceRequest"),
		def("ServiceRequest-identifier", "identifier", TypeToken, "ServiceRequest.identifier", "ServiceRequest"),
		def("ServiceRequest-authored", "authored", TypeDate, "ServiceRequest.authoredOn", "ServiceRequest"),
		ref("ServiceRequest-requester", "requester", "ServiceRequest.requester", []string{"Organization", "Patient", "Practitioner"}, "ServiceRequest"),
		ref("ServiceRequest-performer", "performer", "ServiceRequest.performer", []string{"Organization", "Patient", "Practitioner"}, "ServiceRequest"),
		ref("ServiceRequest-based-on", "based-on", "ServiceRequest.basedOn", []string{"ServiceRequest"}, "ServiceRequest"),

		// ---------------------------------------------------------------
		// Terminology
		// ---------------------------------------------------------------
		def("CodeSystem-code", "code", TypeToken, "CodeSystem.concept.code", "CodeSystem"),
		def("CodeSystem-content-mode", "content-mode", TypeToken, "CodeSystem.content", "CodeSystem"),
		def("CodeSystem-system", "system", TypeURI, "CodeSystem.url", "CodeSystem"),
		def("ValueSet-reference", "reference", TypeURI, "ValueSet.compose.include.system", "ValueSet"),
		def("ValueSet-code", "code", TypeToken, "ValueSet.compose.include.concept.code", "ValueSet"),
	}

	for _, rt := range []string{"CodeSystem", "ValueSet"} {
		defs = append(defs,
			def(rt+"-url", "url", TypeURI, rt+".url", rt),
			def(rt+"-name", "name", TypeString, rt+".name", rt),
			def(rt+"-title", "title", TypeString, rt+".title", rt),
			def(rt+"-status", "status", TypeToken, rt+".status", rt),
			def(rt+"-version", "version", TypeToken, rt+".version", rt),
			def(rt+"-identifier", "identifier", TypeToken, rt+".identifier", rt),
		)
	}

	// subject/patient/encounter are shared by the clinical resources
	for _, rt := range clinical {
		defs = append(defs,
			ref(rt+"-subject", "subject", rt+".subject", []string{"Group", "Patient"}, rt),
			ref(rt+"-patient", "patient", rt+".subject.where(resolve() is Patient)", []string{"Patient"}, rt),
		)
		if rt != "Encounter" {
			defs = append(defs, ref(rt+"-encounter", "encounter", rt+".encounter", []string{"Encounter"}, rt))
		}
	}

	defs = append(defs, addressDefinitions()...)
	return defs
}

// addressDefinitions returns address and its component parameters. The
// person-like resources share one definition; InsurancePlan addresses live
// under contact.
func addressDefinitions() []*Definition {
	parts := []struct {
		suffix string
		path   string
		typ    Type
	}{
		{"", "", TypeString},
		{"-city", ".city", TypeString},
		{"-country", ".country", TypeString},
		{"-postalcode", ".postalCode", TypeString},
		{"-state", ".state", TypeString},
		{"-use", ".use", TypeToken},
	}
	groups := []struct {
		id   string
		path string
		base []string
	}{
		{"individual", "address", individuals},
		{"Organization", "address", []string{"Organization"}},
		{"Location", "address", []string{"Location"}},
		{"InsurancePlan", "contact.address", []string{"InsurancePlan"}},
	}
	var out []*Definition
	for _, g := range groups {
		for _, p := range parts {
			out = append(out, def(g.id+"-address"+p.suffix, "address"+p.suffix, p.typ, union(g.path+p.path, g.base...), g.base...))
		}
	}
	return out
}
