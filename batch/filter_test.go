package batch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func travellers() Unit {
	return Unit{
		Factura: "F-2025-001",
		Insured: []Insured{
			{FirstName: "Ana", LastName: "Torres", Passport: "P111111", Birthdate: "1985-04-12"},
			{FirstName: "Luis", LastName: "Mota", Identity: "001-1234567-8", Birthdate: "1990-09-30"},
			{FirstName: "Carla", LastName: "Reyes", Passport: "P333333", Identity: "001-7654321-9"},
		},
	}
}

func TestFilterEmptyRejectionsIsNoOp(t *testing.T) {
	unit := travellers()

	kept, removed := Filter(unit, nil)

	assert.Empty(t, removed)
	assert.Equal(t, unit, kept)
	// True no-op: the insured slice is the same backing array, not a copy
	assert.Same(t, &unit.Insured[0], &kept.Insured[0])
}

func TestFilterEmptyIsIdempotent(t *testing.T) {
	unit := travellers()
	rejected := []RejectedIndividual{{Passport: "P111111"}}

	once, _ := Filter(unit, rejected)
	twice, removed := Filter(once, nil)

	assert.Empty(t, removed)
	assert.Equal(t, once, twice)
}

func TestFilterMatchesByPassport(t *testing.T) {
	unit := travellers()
	rejected := []RejectedIndividual{
		{FirstName: "Ana", LastName: "Torres", Passport: "P111111", TicketID: "TK-99"},
	}

	kept, removed := Filter(unit, rejected)

	require.Len(t, removed, 1)
	assert.Equal(t, "Ana", removed[0].FirstName)
	require.Len(t, kept.Insured, 2)
	// Relative order of survivors is preserved
	assert.Equal(t, "Luis", kept.Insured[0].FirstName)
	assert.Equal(t, "Carla", kept.Insured[1].FirstName)
	assert.Equal(t, unit.Factura, kept.Factura)
}

func TestFilterMatchesByIdentity(t *testing.T) {
	unit := travellers()
	rejected := []RejectedIndividual{{Identity: "001-1234567-8"}}

	kept, removed := Filter(unit, rejected)

	require.Len(t, removed, 1)
	assert.Equal(t, "Luis", removed[0].FirstName)
	assert.Len(t, kept.Insured, 2)
}

func TestFilterEitherIdentifierMatches(t *testing.T) {
	unit := travellers()
	// Carla is named by identity even though she also holds a passport
	rejected := []RejectedIndividual{{Identity: "001-7654321-9"}}

	kept, removed := Filter(unit, rejected)

	require.Len(t, removed, 1)
	assert.Equal(t, "Carla", removed[0].FirstName)
	assert.Len(t, kept.Insured, 2)
}

func TestFilterRemovesEveryone(t *testing.T) {
	unit := travellers()
	rejected := []RejectedIndividual{
		{Passport: "P111111"},
		{Identity: "001-1234567-8"},
		{Passport: "P333333"},
	}

	kept, removed := Filter(unit, rejected)

	assert.Len(t, removed, 3)
	assert.Empty(t, kept.Insured)
}

func TestFilterDeduplicatesRejectionEntries(t *testing.T) {
	unit := travellers()
	// Same person named twice across rejection entries
	rejected := []RejectedIndividual{
		{Passport: "P111111"},
		{Passport: "P111111", Identity: ""},
	}

	kept, removed := Filter(unit, rejected)

	assert.Len(t, removed, 1)
	assert.Len(t, kept.Insured, 2)
}

func TestFilterDoesNotMutateOriginal(t *testing.T) {
	unit := travellers()
	original := travellers()

	Filter(unit, []RejectedIndividual{{Passport: "P111111"}})

	assert.Equal(t, original, unit)
}
