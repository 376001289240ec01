package batch

import (
	"encoding/json"
	"io"
	"os"

	"github.com/segurotech/emisor/errors"
)

// DecodeEnvelope reads one normalized batch document.
func DecodeEnvelope(r io.Reader) (Envelope, error) {
	var env Envelope
	dec := json.NewDecoder(r)
	if err := dec.Decode(&env); err != nil {
		return Envelope{}, errors.Wrap(err, "failed to decode batch envelope")
	}
	if err := ValidateEnvelope(env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// ReadEnvelopeFile loads and validates a normalized batch file dropped by
// the ingestion layer.
func ReadEnvelopeFile(path string) (Envelope, error) {
	f, err := os.Open(path)
	if err != nil {
		return Envelope{}, errors.Wrapf(err, "failed to open batch file %s", path)
	}
	defer f.Close()

	env, err := DecodeEnvelope(f)
	if err != nil {
		return Envelope{}, errors.Wrapf(err, "invalid batch file %s", path)
	}
	return env, nil
}
