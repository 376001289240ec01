package issuer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segurotech/emisor/batch"
)

func TestParseRejection(t *testing.T) {
	message, rejected := parseRejection([]byte(`{
		"message": "active coverage found",
		"found": [
			{"firstname": "Ana", "passport": "P1", "ticket_id": "TK-1"},
			{"identity": "001-1"}
		]
	}`))
	assert.Equal(t, "active coverage found", message)
	require.Len(t, rejected, 2)
	assert.Equal(t, "P1", rejected[0].Passport)
	assert.Equal(t, "001-1", rejected[1].Identity)

	message, rejected = parseRejection([]byte(`<html>gateway timeout</html>`))
	assert.Empty(t, message)
	assert.Empty(t, rejected)
}

func TestNeedsFilter(t *testing.T) {
	assert.False(t, Outcome{Success: true, TicketID: "TK"}.NeedsFilter())
	assert.False(t, Outcome{HTTPStatus: 500}.NeedsFilter())
	assert.False(t, Outcome{HTTPStatus: 417}.NeedsFilter())
	assert.True(t, Outcome{
		HTTPStatus: 417,
		Rejected:   []batch.RejectedIndividual{{Passport: "P1"}},
	}.NeedsFilter())
}
