package outcome

import (
	"github.com/segurotech/emisor/batch"
	"github.com/segurotech/emisor/emission"
)

// Person statuses in a detailed failure document.
const (
	PersonFailed         = "failed"
	PersonActiveCoverage = "active_coverage"
)

// Person is one insured in a failure document, annotated with why their
// unit failed. Active-coverage individuals carry the ticket id of the
// conflicting policy.
type Person struct {
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	Passport  string `json:"passport,omitempty"`
	Identity  string `json:"identity,omitempty"`
	Birthdate string `json:"birthdate,omitempty"`
	Status    string `json:"status"`
	TicketID  string `json:"ticket_id,omitempty"`
}

// DetailedFailure describes one failed batch unit for the report renderer:
// every person in the original unit with a per-person status, plus the
// subset rejected for active coverage.
type DetailedFailure struct {
	Factura        string             `json:"factura"`
	Pipeline       batch.PipelineType `json:"pipeline_type"`
	Stage          string             `json:"stage,omitempty"`
	Error          string             `json:"error"`
	InsuredCount   int                `json:"num_asegurados"`
	AllPeople      []Person           `json:"all_people"`
	ActiveCoverage []Person           `json:"people_with_active_coverage,omitempty"`
}

// BuildDetailedFailures assembles the failure document for a run. The
// envelope supplies each unit's full original insured list; the run's
// results supply outcome and rejection detail.
func BuildDetailedFailures(env batch.Envelope, run emission.RunResult) []DetailedFailure {
	unitsByFactura := make(map[string]batch.Unit, len(env.Units))
	for _, unit := range env.Units {
		unitsByFactura[unit.Factura] = unit
	}

	var failures []DetailedFailure
	for _, result := range run.Results {
		if result.Succeeded {
			continue
		}
		failures = append(failures, buildFailure(unitsByFactura[result.Factura], result, run.Pipeline))
	}
	return failures
}

func buildFailure(unit batch.Unit, result emission.UnitResult, pipeline batch.PipelineType) DetailedFailure {
	rejected := rejectedIndividuals(result)
	active := make([]Person, 0, len(rejected))
	for _, r := range rejected {
		active = append(active, Person{
			FirstName: r.FirstName,
			LastName:  r.LastName,
			Passport:  r.Passport,
			Identity:  r.Identity,
			Birthdate: r.Birthdate,
			Status:    PersonActiveCoverage,
			TicketID:  r.TicketID,
		})
	}

	all := make([]Person, 0, len(unit.Insured))
	for _, ins := range unit.Insured {
		person := Person{
			FirstName: ins.FirstName,
			LastName:  ins.LastName,
			Passport:  ins.Passport,
			Identity:  ins.Identity,
			Birthdate: ins.Birthdate,
			Status:    PersonFailed,
		}
		if r, ok := matchRejected(ins, rejected); ok {
			person.Status = PersonActiveCoverage
			person.TicketID = r.TicketID
		}
		all = append(all, person)
	}

	failure := DetailedFailure{
		Factura:        result.Factura,
		Pipeline:       pipeline,
		InsuredCount:   len(all),
		AllPeople:      all,
		ActiveCoverage: active,
	}
	switch {
	case result.TransportError != "":
		failure.Error = result.TransportError
	case result.AllRejected:
		failure.Error = "all individuals removed due to active coverage"
	case result.Failure != nil && result.Failure.Message != "":
		failure.Error = result.Failure.Message
	case result.Failure != nil:
		failure.Error = "issuance rejected"
	default:
		failure.Error = "unknown failure"
	}
	if result.Failure != nil {
		failure.Stage = string(result.Failure.Stage)
	}
	return failure
}

// rejectedIndividuals returns the rejection that named individuals,
// preferring the original one preserved through filtering.
func rejectedIndividuals(result emission.UnitResult) []batch.RejectedIndividual {
	if result.OriginalRejection != nil && len(result.OriginalRejection.Rejected) > 0 {
		return result.OriginalRejection.Rejected
	}
	if result.Failure != nil {
		return result.Failure.Rejected
	}
	return nil
}

func matchRejected(ins batch.Insured, rejected []batch.RejectedIndividual) (batch.RejectedIndividual, bool) {
	for _, r := range rejected {
		if ins.Passport != "" && ins.Passport == r.Passport {
			return r, true
		}
		if ins.Identity != "" && ins.Identity == r.Identity {
			return r, true
		}
	}
	return batch.RejectedIndividual{}, false
}
