package contestant

import (
	"testing"

	"github.com/mcdev12/olympia/go/internal/models"
)

func TestGradeMultipleChoice(t *testing.T) {
	q := &models.Question{Type: models.QuestionTypeMultipleChoice, Answer: "B"}
	if !Grade(q, " B ") {
		t.Fatal("expected padded exact answer to be correct")
	}
	if Grade(q, "b") {
		t.Fatal("expected multiple choice to be case sensitive")
	}
}

func TestGradeFreeText(t *testing.T) {
	q := &models.Question{
		Type:            models.QuestionTypeFreeText,
		Answer:          "Ho Chi Minh City",
		AcceptedAnswers: []string{"Saigon"},
	}
	for _, answer := range []string{"ho chi minh city", "  Ho   Chi Minh City!", "\"saigon.\"", "SAIGON"} {
		if !Grade(q, answer) {
			t.Fatalf("expected %q to be accepted", answer)
		}
	}
	for _, answer := range []string{"", "...", "Hanoi", "Ho Chi-Minh City"} {
		if Grade(q, answer) {
			t.Fatalf("expected %q to be rejected", answer)
		}
	}
}
