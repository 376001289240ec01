package emission

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segurotech/emisor/batch"
	"github.com/segurotech/emisor/errors"
	"github.com/segurotech/emisor/issuer"
)

// fakeSubmitter replays scripted outcomes and records every submitted unit.
type fakeSubmitter struct {
	outcomes []issuer.Outcome
	errs     []error
	calls    []batch.Unit
}

func (f *fakeSubmitter) Submit(_ context.Context, unit batch.Unit) (issuer.Outcome, error) {
	idx := len(f.calls)
	f.calls = append(f.calls, unit)
	var err error
	if idx < len(f.errs) {
		err = f.errs[idx]
	}
	var outcome issuer.Outcome
	if idx < len(f.outcomes) {
		outcome = f.outcomes[idx]
	}
	return outcome, err
}

func success(ticket string) issuer.Outcome {
	return issuer.Outcome{Success: true, TicketID: ticket}
}

func activeCoverage(rejected ...batch.RejectedIndividual) issuer.Outcome {
	return issuer.Outcome{
		Stage:      issuer.StageValidate,
		HTTPStatus: 417,
		Message:    "individuals with active coverage",
		Rejected:   rejected,
	}
}

func threePersonUnit() batch.Unit {
	return batch.Unit{
		Factura: "F-1",
		Insured: []batch.Insured{
			{FirstName: "Ana", LastName: "Torres", Passport: "P1"},
			{FirstName: "Luis", LastName: "Mota", Passport: "P2"},
			{FirstName: "Carla", LastName: "Reyes", Passport: "P3"},
		},
	}
}

func TestProcessUnitFirstAttemptSucceeds(t *testing.T) {
	sub := &fakeSubmitter{outcomes: []issuer.Outcome{success("TK-1")}}
	proc := NewProcessor(sub, nil)

	result := proc.ProcessUnit(context.Background(), threePersonUnit())

	assert.True(t, result.Succeeded)
	assert.Equal(t, "TK-1", result.TicketID)
	assert.Equal(t, 1, result.Attempts)
	assert.Len(t, sub.calls, 1)
	assert.Empty(t, result.Removed)
	assert.Nil(t, result.OriginalRejection)
}

func TestProcessUnitFiltersAndRetriesOnce(t *testing.T) {
	// 3 individuals, one rejected by passport: the retry carries the other 2
	sub := &fakeSubmitter{outcomes: []issuer.Outcome{
		activeCoverage(batch.RejectedIndividual{Passport: "P2", TicketID: "TK-OLD"}),
		success("TK-2"),
	}}
	proc := NewProcessor(sub, nil)

	result := proc.ProcessUnit(context.Background(), threePersonUnit())

	assert.True(t, result.Succeeded)
	assert.Equal(t, "TK-2", result.TicketID)
	assert.Equal(t, 2, result.Attempts)
	require.Len(t, sub.calls, 2)
	require.Len(t, sub.calls[1].Insured, 2)
	assert.Equal(t, "Ana", sub.calls[1].Insured[0].FirstName)
	assert.Equal(t, "Carla", sub.calls[1].Insured[1].FirstName)

	require.Len(t, result.Removed, 1)
	assert.Equal(t, "Luis", result.Removed[0].FirstName)
	require.NotNil(t, result.OriginalRejection)
	assert.Equal(t, 417, result.OriginalRejection.HTTPStatus)
}

func TestProcessUnitAllRejectedSkipsSecondCall(t *testing.T) {
	sub := &fakeSubmitter{outcomes: []issuer.Outcome{
		activeCoverage(
			batch.RejectedIndividual{Passport: "P1"},
			batch.RejectedIndividual{Passport: "P2"},
			batch.RejectedIndividual{Passport: "P3"},
		),
	}}
	proc := NewProcessor(sub, nil)

	result := proc.ProcessUnit(context.Background(), threePersonUnit())

	assert.False(t, result.Succeeded)
	assert.True(t, result.AllRejected)
	assert.Equal(t, 1, result.Attempts)
	assert.Len(t, sub.calls, 1, "no resubmission when every insured was rejected")
	assert.Len(t, result.Removed, 3)
	require.NotNil(t, result.Failure)
	assert.Equal(t, 417, result.Failure.HTTPStatus)
}

func TestProcessUnitRetryFailureKeepsRejectionDetail(t *testing.T) {
	secondFailure := issuer.Outcome{
		Stage:      issuer.StageConfirm,
		HTTPStatus: 502,
		Message:    "payment processor down",
	}
	sub := &fakeSubmitter{outcomes: []issuer.Outcome{
		activeCoverage(batch.RejectedIndividual{Passport: "P1"}),
		secondFailure,
	}}
	proc := NewProcessor(sub, nil)

	result := proc.ProcessUnit(context.Background(), threePersonUnit())

	assert.False(t, result.Succeeded)
	assert.Equal(t, 2, result.Attempts)
	require.Len(t, result.Removed, 1)
	require.NotNil(t, result.OriginalRejection)
	assert.Equal(t, 417, result.OriginalRejection.HTTPStatus)
	require.NotNil(t, result.Failure)
	assert.Equal(t, issuer.StageConfirm, result.Failure.Stage)
}

func TestProcessUnitSecond417NotFilteredAgain(t *testing.T) {
	sub := &fakeSubmitter{outcomes: []issuer.Outcome{
		activeCoverage(batch.RejectedIndividual{Passport: "P1"}),
		activeCoverage(batch.RejectedIndividual{Passport: "P2"}),
	}}
	proc := NewProcessor(sub, nil)

	result := proc.ProcessUnit(context.Background(), threePersonUnit())

	assert.False(t, result.Succeeded)
	assert.Equal(t, 2, result.Attempts)
	assert.Len(t, sub.calls, 2, "a second rejection is terminal")
	assert.Len(t, result.Removed, 1, "only the first rejection filtered individuals")
}

func TestProcessUnitNonFilterableFailure(t *testing.T) {
	sub := &fakeSubmitter{outcomes: []issuer.Outcome{{
		Stage:      issuer.StageQuote,
		HTTPStatus: 400,
		Message:    "malformed emission",
	}}}
	proc := NewProcessor(sub, nil)

	result := proc.ProcessUnit(context.Background(), threePersonUnit())

	assert.False(t, result.Succeeded)
	assert.Equal(t, 1, result.Attempts)
	assert.Len(t, sub.calls, 1)
	require.NotNil(t, result.Failure)
	assert.Equal(t, issuer.StageQuote, result.Failure.Stage)
	assert.Empty(t, result.Removed)
}

func TestProcessUnitTransportError(t *testing.T) {
	sub := &fakeSubmitter{errs: []error{errors.New("connection refused")}}
	proc := NewProcessor(sub, nil)

	result := proc.ProcessUnit(context.Background(), threePersonUnit())

	assert.False(t, result.Succeeded)
	assert.Contains(t, result.TransportError, "connection refused")
}
