package reconcile

import "github.com/centromex/rental-bot/internal/models"

// Diff returns the notifiable status transitions from previous to current,
// in current's row order. Rows without an ID are skipped; an ID missing from
// previous counts as having had an empty status.
func Diff(previous, current []models.Record) []models.Transition {
	before := make(map[int64]models.Status, len(previous))
	for _, rec := range previous {
		if !rec.ID.Valid {
			continue
		}
		if _, seen := before[rec.ID.Int64]; !seen {
			before[rec.ID.Int64] = rec.State()
		}
	}

	var out []models.Transition
	for _, rec := range current {
		if !rec.ID.Valid {
			continue
		}
		to := rec.State()
		if !to.Notifiable() {
			continue
		}
		from := before[rec.ID.Int64]
		if from == to {
			continue
		}
		out = append(out, models.Transition{ID: rec.ID.Int64, From: from, To: to})
	}
	return out
}
