package contestant

import (
	"testing"

	"github.com/mcdev12/olympia/go/internal/models"
)

func TestCanTransition(t *testing.T) {
	allowed := [][2]models.ContestantStatus{
		{models.ContestantStatusNotStarted, models.ContestantStatusInProgress},
		{models.ContestantStatusInProgress, models.ContestantStatusConfirmed2},
		{models.ContestantStatusConfirmed2, models.ContestantStatusConfirmed1},
		{models.ContestantStatusConfirmed1, models.ContestantStatusEliminated},
		{models.ContestantStatusEliminated, models.ContestantStatusRescued},
		{models.ContestantStatusRescued, models.ContestantStatusInProgress},
		{models.ContestantStatusInProgress, models.ContestantStatusCompleted},
	}
	for _, tr := range allowed {
		if !CanTransition(tr[0], tr[1]) {
			t.Fatalf("expected %s -> %s to be allowed", tr[0], tr[1])
		}
	}

	denied := [][2]models.ContestantStatus{
		{models.ContestantStatusEliminated, models.ContestantStatusInProgress},
		{models.ContestantStatusBanned, models.ContestantStatusInProgress},
		{models.ContestantStatusCompleted, models.ContestantStatusBanned},
		{models.ContestantStatusRescued, models.ContestantStatusEliminated},
		{models.ContestantStatusInProgress, models.ContestantStatus("bogus")},
	}
	for _, tr := range denied {
		if CanTransition(tr[0], tr[1]) {
			t.Fatalf("expected %s -> %s to be rejected", tr[0], tr[1])
		}
	}
}
