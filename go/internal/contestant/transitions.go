package contestant

import "github.com/mcdev12/olympia/go/internal/models"

// activeTier is the set of statuses a contestant moves between freely while
// still answering.
var activeTier = map[models.ContestantStatus]bool{
	models.ContestantStatusInProgress: true,
	models.ContestantStatusConfirmed1: true,
	models.ContestantStatusConfirmed2: true,
}

var allowedTransitions = map[models.ContestantStatus][]models.ContestantStatus{
	models.ContestantStatusNotStarted: {
		models.ContestantStatusInProgress,
		models.ContestantStatusEliminated,
		models.ContestantStatusBanned,
		models.ContestantStatusCompleted,
	},
	models.ContestantStatusEliminated: {
		models.ContestantStatusRescued,
		models.ContestantStatusBanned,
		models.ContestantStatusCompleted,
	},
	// Back into play only via ConsumeRescues or an immediate rescue.
	models.ContestantStatusRescued: {
		models.ContestantStatusInProgress,
		models.ContestantStatusBanned,
	},
	models.ContestantStatusBanned:    {},
	models.ContestantStatusCompleted: {},
}

// CanTransition reports whether an operator may move a contestant from one
// status to another. eliminated -> in_progress is deliberately absent.
func CanTransition(from, to models.ContestantStatus) bool {
	if !to.Valid() {
		return false
	}
	if activeTier[from] {
		return activeTier[to] ||
			to == models.ContestantStatusEliminated ||
			to == models.ContestantStatusBanned ||
			to == models.ContestantStatusCompleted
	}
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
