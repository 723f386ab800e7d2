package schema

// Elements every resource declares.
var commonResourceElements = map[string]string{
	"id":            "id",
	"meta":          "Meta",
	"implicitRules": "uri",
	"language":      "code",
	"text":          "Narrative",
	"contained":     "Resource[]",
	"extension":     "Extension[]",
}

var builtinDatatypes = map[string]map[string]string{
	"Identifier": {
		"use":      "code",
		"type":     "CodeableConcept",
		"system":   "uri",
		"value":    "string",
		"period":   "Period",
		"assigner": "Reference",
	},
	"CodeableConcept": {
		"coding": "Coding[]",
		"text":   "string",
	},
	"Coding": {
		"system":       "uri",
		"version":      "string",
		"code":         "code",
		"display":      "string",
		"userSelected": "boolean",
	},
	"ContactPoint": {
		"system": "code",
		"value":  "string",
		"use":    "code",
		"rank":   "positiveInt",
		"period": "Period",
	},
	"Reference": {
		"reference":  "string",
		"type":       "uri",
		"identifier": "Identifier",
		"display":    "string",
	},
	"HumanName": {
		"use":    "code",
		"text":   "string",
		"family": "string",
		"given":  "string[]",
		"prefix": "string[]",
		"suffix": "string[]",
		"period": "Period",
	},
	"Address": {
		"use":        "code",
		"type":       "code",
		"text":       "string",
		"line":       "string[]",
		"city":       "string",
		"district":   "string",
		"state":      "string",
		"postalCode": "string",
		"country":    "string",
		"period":     "Period",
	},
	"Period": {
		"start": "dateTime",
		"end":   "dateTime",
	},
	"Meta": {
		"versionId":   "id",
		"lastUpdated": "instant",
		"source":      "uri",
		"profile":     "canonical[]",
		"security":    "Coding[]",
		"tag":         "Coding[]",
	},
	"Quantity": {
		"value":      "decimal",
		"comparator": "code",
		"unit":       "string",
		"system":     "uri",
		"code":       "code",
	},
	"Range": {
		"low":  "Quantity",
		"high": "Quantity",
	},
	"Narrative": {
		"status": "code",
		"div":    "xhtml",
	},
	"Extension": {
		"url":      "uri",
		"value[x]": "string|boolean|code|integer|decimal|dateTime|uri|Coding|CodeableConcept|Reference|Quantity|Identifier|Period",
	},
}

var builtinResources = map[string]map[string]string{
	"Patient": {
		"identifier":           "Identifier[]",
		"active":               "boolean",
		"name":                 "HumanName[]",
		"telecom":              "ContactPoint[]",
		"gender":               "code",
		"birthDate":            "date",
		"deceased[x]":          "boolean|dateTime",
		"address":              "Address[]",
		"maritalStatus":        "CodeableConcept",
		"generalPractitioner":  "Reference[]",
		"managingOrganization": "Reference",
		"link":                 "Patient.link[]",
	},
	"Person": {
		"identifier":           "Identifier[]",
		"active":               "boolean",
		"name":                 "HumanName[]",
		"telecom":              "ContactPoint[]",
		"gender":               "code",
		"birthDate":            "date",
		"address":              "Address[]",
		"managingOrganization": "Reference",
		"link":                 "Person.link[]",
	},
	"Practitioner": {
		"identifier": "Identifier[]",
		"active":     "boolean",
		"name":       "HumanName[]",
		"telecom":    "ContactPoint[]",
		"address":    "Address[]",
		"gender":     "code",
		"birthDate":  "date",
	},
	"RelatedPerson": {
		"identifier":   "Identifier[]",
		"active":       "boolean",
		"patient":      "Reference",
		"relationship": "CodeableConcept[]",
		"name":         "HumanName[]",
		"telecom":      "ContactPoint[]",
		"gender":       "code",
		"birthDate":    "date",
		"address":      "Address[]",
	},
	"Organization": {
		"identifier": "Identifier[]",
		"active":     "boolean",
		"type":       "CodeableConcept[]",
		"name":       "string",
		"alias":      "string[]",
		"telecom":    "ContactPoint[]",
		"address":    "Address[]",
		"partOf":     "Reference",
	},
	"Location": {
		"identifier":           "Identifier[]",
		"status":               "code",
		"name":                 "string",
		"alias":                "string[]",
		"type":                 "CodeableConcept[]",
		"telecom":              "ContactPoint[]",
		"address":              "Address",
		"managingOrganization": "Reference",
		"partOf":               "Reference",
	},
	"InsurancePlan": {
		"identifier":     "Identifier[]",
		"status":         "code",
		"type":           "CodeableConcept[]",
		"name":           "string",
		"ownedBy":        "Reference",
		"administeredBy": "Reference",
		"contact":        "InsurancePlan.contact[]",
	},
	"Observation": {
		"identifier":       "Identifier[]",
		"basedOn":          "Reference[]",
		"partOf":           "Reference[]",
		"status":           "code",
		"category":         "CodeableConcept[]",
		"code":             "CodeableConcept",
		"subject":          "Reference",
		"focus":            "Reference[]",
		"encounter":        "Reference",
		"effective[x]":     "dateTime|Period|instant",
		"issued":           "instant",
		"performer":        "Reference[]",
		"value[x]":         "Quantity|CodeableConcept|string|boolean|integer|Range|dateTime|Period",
		"dataAbsentReason": "CodeableConcept",
		"interpretation":   "CodeableConcept[]",
		"bodySite":         "CodeableConcept",
		"method":           "CodeableConcept",
		"specimen":         "Reference",
		"device":           "Reference",
		"hasMember":        "Reference[]",
		"derivedFrom":      "Reference[]",
		"component":        "Observation.component[]",
	},
	"Condition": {
		"identifier":         "Identifier[]",
		"clinicalStatus":     "CodeableConcept",
		"verificationStatus": "CodeableConcept",
		"category":           "CodeableConcept[]",
		"severity":           "CodeableConcept",
		"code":               "CodeableConcept",
		"bodySite":           "CodeableConcept[]",
		"subject":            "Reference",
		"encounter":          "Reference",
		"onset[x]":           "dateTime|Period|Range|string",
		"recordedDate":       "dateTime",
		"recorder":           "Reference",
		"asserter":           "Reference",
	},
	"Encounter": {
		"identifier":      "Identifier[]",
		"status":          "code",
		"class":           "Coding",
		"type":            "CodeableConcept[]",
		"subject":         "Reference",
		"participant":     "Encounter.participant[]",
		"period":          "Period",
		"reasonCode":      "CodeableConcept[]",
		"serviceProvider": "Reference",
		"location":        "Encounter.location[]",
	},
	"ServiceRequest": {
		"identifier": "Identifier[]",
		"basedOn":    "Reference[]",
		"status":     "code",
		"intent":     "code",
		"category":   "CodeableConcept[]",
		"priority":   "code",
		"code":       "CodeableConcept",
		"subject":    "Reference",
		"encounter":  "Reference",
		"authoredOn": "dateTime",
		"requester":  "Reference",
		"performer":  "Reference[]",
	},
	"CodeSystem": {
		"url":              "uri",
		"identifier":       "Identifier[]",
		"version":          "string",
		"name":             "string",
		"title":            "string",
		"status":           "code",
		"date":             "dateTime",
		"publisher":        "string",
		"description":      "markdown",
		"jurisdiction":     "CodeableConcept[]",
		"hierarchyMeaning": "code",
		"content":          "code",
		"supplements":      "canonical",
		"property":         "CodeSystem.property[]",
		"concept":          "CodeSystem.concept[]",
	},
	"ValueSet": {
		"url":          "uri",
		"identifier":   "Identifier[]",
		"version":      "string",
		"name":         "string",
		"title":        "string",
		"status":       "code",
		"date":         "dateTime",
		"publisher":    "string",
		"description":  "markdown",
		"jurisdiction": "CodeableConcept[]",
		"compose":      "ValueSet.compose",
	},
}

var builtinBackbones = map[string]map[string]string{
	"Patient.link": {
		"other": "Reference",
		"type":  "code",
	},
	"Person.link": {
		"target":    "Reference",
		"assurance": "code",
	},
	"InsurancePlan.contact": {
		"purpose": "CodeableConcept",
		"name":    "HumanName",
		"telecom": "ContactPoint[]",
		"address": "Address",
	},
	"Observation.component": {
		"code":             "CodeableConcept",
		"value[x]":         "Quantity|CodeableConcept|string|boolean|integer|Range|dateTime|Period",
		"dataAbsentReason": "CodeableConcept",
		"interpretation":   "CodeableConcept[]",
	},
	"Encounter.participant": {
		"type":       "CodeableConcept[]",
		"period":     "Period",
		"individual": "Reference",
	},
	"Encounter.location": {
		"location": "Reference",
		"status":   "code",
		"period":   "Period",
	},
	"CodeSystem.property": {
		"code":        "code",
		"uri":         "uri",
		"description": "string",
		"type":        "code",
	},
	"CodeSystem.concept": {
		"code":       "code",
		"display":    "string",
		"definition": "string",
		"property":   "CodeSystem.concept.property[]",
		"concept":    "CodeSystem.concept[]",
	},
	"CodeSystem.concept.property": {
		"code":     "code",
		"value[x]": "code|Coding|string|integer|boolean|dateTime|decimal",
	},
	"ValueSet.compose": {
		"lockedDate": "date",
		"inactive":   "boolean",
		"include":    "ValueSet.compose.include[]",
		"exclude":    "ValueSet.compose.include[]",
	},
	"ValueSet.compose.include": {
		"system":   "uri",
		"version":  "string",
		"concept":  "ValueSet.compose.include.concept[]",
		"valueSet": "canonical[]",
	},
	"ValueSet.compose.include.concept": {
		"code":    "code",
		"display": "string",
	},
}
