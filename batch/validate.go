package batch

import (
	"github.com/segurotech/emisor/errors"
)

// ValidateEnvelope checks a normalized batch before processing. Violations
// surface as ErrValidation and fail the run fast; an envelope with zero
// units is valid (the no-new-data condition is handled downstream).
func ValidateEnvelope(env Envelope) error {
	if !env.Pipeline.Valid() {
		return errors.NewValidationError("unknown pipeline type %q", string(env.Pipeline))
	}

	seen := make(map[string]struct{}, len(env.Units))
	for _, unit := range env.Units {
		if err := ValidateUnit(unit); err != nil {
			return err
		}
		if _, dup := seen[unit.Factura]; dup {
			return errors.NewValidationError("duplicate factura %s in batch", unit.Factura)
		}
		seen[unit.Factura] = struct{}{}
	}
	return nil
}

// ValidateUnit checks a single factura for the fields submission requires.
func ValidateUnit(unit Unit) error {
	if unit.Factura == "" {
		return errors.NewValidationError("factura missing group key")
	}
	if len(unit.Insured) == 0 {
		return errors.NewValidationError("factura %s has no insured individuals", unit.Factura)
	}
	for idx, ins := range unit.Insured {
		if !ins.HasIdentifier() {
			return errors.NewValidationError(
				"factura %s insured #%d (%s) has neither passport nor identity",
				unit.Factura, idx+1, ins.DisplayName(),
			)
		}
		if ins.FirstName == "" && ins.LastName == "" {
			return errors.NewValidationError("factura %s insured #%d has no name", unit.Factura, idx+1)
		}
	}
	return nil
}
