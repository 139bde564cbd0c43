package contestant

import (
	"strings"
	"unicode"

	"github.com/mcdev12/olympia/go/internal/models"
)

// Grade reports whether answer is correct for q.
func Grade(q *models.Question, answer string) bool {
	if q.Type == models.QuestionTypeFreeText {
		got := normalize(answer)
		if got == "" {
			return false
		}
		if got == normalize(q.Answer) {
			return true
		}
		for _, accepted := range q.AcceptedAnswers {
			if got == normalize(accepted) {
				return true
			}
		}
		return false
	}
	return strings.TrimSpace(answer) == strings.TrimSpace(q.Answer)
}

// normalize lowercases s, collapses inner whitespace and strips punctuation
// at both ends.
func normalize(s string) string {
	s = strings.Join(strings.Fields(strings.ToLower(s)), " ")
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
}
