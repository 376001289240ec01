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

func TestRunEmptyEnvelopeIsNoData(t *testing.T) {
	sub := &fakeSubmitter{}
	runner := NewRunner(sub, nil)

	result := runner.Run(context.Background(), batch.Envelope{
		Pipeline: batch.TypeSI,
		Label:    "Emision SI 2025-08-28",
	})

	assert.True(t, result.NoData)
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, "Emision SI 2025-08-28", result.Label)
	assert.Empty(t, sub.calls, "no API calls for an empty batch")
	assert.Zero(t, result.Stats.TotalUnits)
}

func TestRunUnitFailureDoesNotAbortRun(t *testing.T) {
	sub := &fakeSubmitter{
		outcomes: []issuer.Outcome{{}, success("TK-2")},
		errs:     []error{errors.New("connection reset"), nil},
	}
	runner := NewRunner(sub, nil)

	env := batch.Envelope{
		Pipeline: batch.TypeViajeros,
		Units: []batch.Unit{
			{Factura: "F-1", Insured: []batch.Insured{{FirstName: "Ana", Passport: "P1"}}},
			{Factura: "F-2", Insured: []batch.Insured{{FirstName: "Luis", Passport: "P2"}}},
		},
	}
	result := runner.Run(context.Background(), env)

	require.Len(t, result.Results, 2)
	assert.False(t, result.Results[0].Succeeded)
	assert.True(t, result.Results[1].Succeeded)
	assert.Equal(t, 1, result.Stats.SucceededUnits)
	assert.Equal(t, 1, result.Stats.FailedUnits)
}

func TestRunStats(t *testing.T) {
	sub := &fakeSubmitter{outcomes: []issuer.Outcome{
		activeCoverage(batch.RejectedIndividual{Passport: "P2"}),
		success("TK-1"),
		success("TK-2"),
	}}
	runner := NewRunner(sub, nil)

	env := batch.Envelope{
		Pipeline: batch.TypeSI,
		Units: []batch.Unit{
			threePersonUnit(),
			{Factura: "F-2", Insured: []batch.Insured{{FirstName: "Eva", Passport: "P9"}}},
		},
	}
	result := runner.Run(context.Background(), env)

	assert.Equal(t, 2, result.Stats.TotalUnits)
	assert.Equal(t, 2, result.Stats.SucceededUnits)
	assert.Equal(t, 0, result.Stats.FailedUnits)
	assert.Equal(t, 4, result.Stats.TotalInsured)
	assert.Equal(t, 1, result.Stats.RemovedInsured)
	assert.Equal(t, 3, result.Stats.IssuedInsured)
	assert.InDelta(t, 1.0, result.Stats.SuccessRate, 0.001)
	assert.False(t, result.CompletedAt.Before(result.StartedAt))
}
