package batch

// Filter partitions a unit's insured list against a set of rejected
// individuals. An insured is removed when its passport or identity matches
// any rejected entry. Kept individuals preserve their original relative
// order.
//
// With no rejected entries the original unit is returned as-is (same
// backing slice), so repeated empty filtering is a true no-op.
func Filter(unit Unit, rejected []RejectedIndividual) (kept Unit, removed []Insured) {
	if len(rejected) == 0 {
		return unit, nil
	}

	// Identifier lookup sets, deduplicated across all rejected entries.
	passports := make(map[string]struct{}, len(rejected))
	identities := make(map[string]struct{}, len(rejected))
	for _, r := range rejected {
		if r.Passport != "" {
			passports[r.Passport] = struct{}{}
		}
		if r.Identity != "" {
			identities[r.Identity] = struct{}{}
		}
	}

	filtered := make([]Insured, 0, len(unit.Insured))
	for _, ins := range unit.Insured {
		if matches(ins, passports, identities) {
			removed = append(removed, ins)
		} else {
			filtered = append(filtered, ins)
		}
	}

	kept = Unit{
		Factura: unit.Factura,
		Insured: filtered,
		Policy:  unit.Policy,
	}
	return kept, removed
}

func matches(ins Insured, passports, identities map[string]struct{}) bool {
	if ins.Passport != "" {
		if _, ok := passports[ins.Passport]; ok {
			return true
		}
	}
	if ins.Identity != "" {
		if _, ok := identities[ins.Identity]; ok {
			return true
		}
	}
	return false
}
