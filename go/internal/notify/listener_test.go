package notify

import (
	"testing"

	"github.com/google/uuid"
)

type changeRecorder struct {
	ids []uuid.UUID
	ops []string
}

func (r *changeRecorder) MatchChanged(matchID uuid.UUID, op string) {
	r.ids = append(r.ids, matchID)
	r.ops = append(r.ops, op)
}

func TestParseChange(t *testing.T) {
	id := uuid.New()
	c, err := ParseChange(`{"match_id":"` + id.String() + `","op":"UPDATE"}`)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if c.MatchID != id || c.Op != "UPDATE" {
		t.Fatalf("expected %s/UPDATE, got %+v", id, c)
	}

	if _, err := ParseChange(`{"op":"DELETE"}`); err == nil {
		t.Fatalf("expected an error for a payload without match_id")
	}
	if _, err := ParseChange(`garbage`); err == nil {
		t.Fatalf("expected an error for invalid json")
	}
}

func TestDispatchForwardsValidChangesOnly(t *testing.T) {
	rec := &changeRecorder{}
	id := uuid.New()

	dispatch(rec, `{"match_id":"`+id.String()+`","op":"INSERT"}`)
	dispatch(rec, `{"match_id":"not-a-uuid","op":"INSERT"}`)

	if len(rec.ids) != 1 {
		t.Fatalf("expected one forwarded change, got %d", len(rec.ids))
	}
	if rec.ids[0] != id || rec.ops[0] != "INSERT" {
		t.Fatalf("expected %s/INSERT, got %s/%s", id, rec.ids[0], rec.ops[0])
	}
}
