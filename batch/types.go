// Package batch defines the emission data model: insured individuals,
// facturas (batch units), and the record filter applied after active-coverage
// rejections.
package batch

import (
	"encoding/json"
)

// PipelineType identifies one of the two processing tracks sharing the
// coordination and reporting machinery.
type PipelineType string

const (
	// TypeSI is the Salud Internacional pipeline
	TypeSI PipelineType = "si"
	// TypeViajeros is the travellers pipeline
	TypeViajeros PipelineType = "viajeros"
)

// Valid returns true if t is a known pipeline type.
func (t PipelineType) Valid() bool {
	return t == TypeSI || t == TypeViajeros
}

// Other returns the counterpart pipeline type.
func (t PipelineType) Other() PipelineType {
	if t == TypeSI {
		return TypeViajeros
	}
	return TypeSI
}

// Insured is one person in a batch unit. Values are immutable once parsed
// from input; filtering copies insured records into new slices, it never
// mutates them. At least one of Passport or Identity is present.
type Insured struct {
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	Passport  string `json:"passport,omitempty"`
	Identity  string `json:"identity,omitempty"`
	Birthdate string `json:"birthdate,omitempty"`
	Gender    string `json:"gender,omitempty"`
}

// HasIdentifier returns true if the insured carries at least one stable
// identifier usable for rejection matching.
func (i Insured) HasIdentifier() bool {
	return i.Passport != "" || i.Identity != ""
}

// DisplayName returns the person's full name for reports and logs.
func (i Insured) DisplayName() string {
	switch {
	case i.FirstName == "":
		return i.LastName
	case i.LastName == "":
		return i.FirstName
	default:
		return i.FirstName + " " + i.LastName
	}
}

// Unit is one factura: a named group of insured individuals submitted
// together to the issuance API. Units are constructed once from normalized
// input and never mutated; filtering produces a new Unit.
type Unit struct {
	Factura string          `json:"factura"`
	Insured []Insured       `json:"insured"`
	Policy  json.RawMessage `json:"policy,omitempty"` // opaque policy metadata, passed through to the API
}

// RejectedIndividual is one entry of an active-coverage rejection ("found"
// list in the 417 response body). Identifiers drive filtering; the display
// fields and ticket id surface in reports.
type RejectedIndividual struct {
	FirstName string `json:"firstname,omitempty"`
	LastName  string `json:"lastname,omitempty"`
	Passport  string `json:"passport,omitempty"`
	Identity  string `json:"identity,omitempty"`
	Birthdate string `json:"birthdate,omitempty"`
	TicketID  string `json:"ticket_id,omitempty"`
}

// Envelope is one normalized batch dropped by the ingestion layer: the
// pipeline it belongs to, the trigger label (email subject upstream), and
// the facturas to process.
type Envelope struct {
	Pipeline PipelineType `json:"pipeline"`
	Label    string       `json:"label,omitempty"`
	Units    []Unit       `json:"facturas"`
}
