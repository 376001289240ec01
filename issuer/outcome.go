// Package issuer talks to the remote policy-issuance API. Each batch unit
// goes through three sequential calls: quote, manager validation, payment
// confirmation. The client performs no retries of its own; rejection
// handling lives in the emission package.
package issuer

import (
	"encoding/json"

	"github.com/segurotech/emisor/batch"
)

// Stage identifies which API call produced an outcome.
type Stage string

const (
	StageQuote    Stage = "quote"
	StageValidate Stage = "validate"
	StageConfirm  Stage = "confirm"
)

// Outcome is the result of submitting one batch unit. Exactly one of the
// success and failure fields is meaningful: when Success is true TicketID
// carries the confirmation, otherwise Stage, HTTPStatus and RawResponse
// describe the failure.
type Outcome struct {
	Success  bool   `json:"success"`
	TicketID string `json:"ticket_id,omitempty"`

	Stage       Stage  `json:"stage,omitempty"`
	HTTPStatus  int    `json:"http_status,omitempty"`
	Message     string `json:"message,omitempty"`
	RawResponse string `json:"raw_response,omitempty"`

	// Rejected holds the "found" individuals parsed from an active-coverage
	// response. Empty unless HTTPStatus is 417 and the body carried them.
	Rejected []batch.RejectedIndividual `json:"rejected,omitempty"`
}

// NeedsFilter reports whether the outcome is an active-coverage rejection
// that names the conflicting individuals. Only these failures qualify for a
// filtered resubmission; a 417 with an empty found list does not.
func (o Outcome) NeedsFilter() bool {
	return !o.Success && o.HTTPStatus == 417 && len(o.Rejected) > 0
}

// rejectionBody is the shape of an active-coverage error response.
type rejectionBody struct {
	Message string                     `json:"message"`
	Found   []batch.RejectedIndividual `json:"found"`
}

// parseRejection extracts the rejection message and found individuals from
// a response body. Unparseable bodies yield empty results; the raw body is
// preserved on the outcome either way.
func parseRejection(body []byte) (string, []batch.RejectedIndividual) {
	var rb rejectionBody
	if err := json.Unmarshal(body, &rb); err != nil {
		return "", nil
	}
	return rb.Message, rb.Found
}
