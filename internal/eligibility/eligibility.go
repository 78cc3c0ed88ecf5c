// Package eligibility computes which related records a dependent form may still link to.
package eligibility

import "sandia/internal/apiclient"

// Consumed returns the set of foreign-key values fkField holds across dependents.
func Consumed(dependents []apiclient.Record, fkField string) map[int64]struct{} {
	out := make(map[int64]struct{}, len(dependents))
	for _, d := range dependents {
		if id, ok := apiclient.ToID(d[fkField]); ok {
			out[id] = struct{}{}
		}
	}
	return out
}

// Eligible returns the related records not yet referenced by any dependent through
// fkField. keep is the original foreign key of the draft being edited; that record
// stays selectable even though the draft itself consumes it. Pass nil when no record
// is being edited. The order of related is preserved.
func Eligible(related, dependents []apiclient.Record, fkField string, keep any) []apiclient.Record {
	consumed := Consumed(dependents, fkField)
	keepID, keepOK := apiclient.ToID(keep)

	out := make([]apiclient.Record, 0, len(related))
	for _, r := range related {
		id, ok := r.ID()
		if !ok {
			continue
		}
		if _, used := consumed[id]; used && !(keepOK && id == keepID) {
			continue
		}
		out = append(out, r)
	}
	return out
}
