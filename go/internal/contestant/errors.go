package contestant

import "github.com/mcdev12/olympia/go/internal/apperr"

// Submission rejections. Each carries its own reason so clients can tell
// them apart.
var (
	ErrNotStarted = &apperr.Error{Kind: apperr.KindInvalidTransition, Reason: "not_started", Message: "contestant has not started this match"}
	ErrEliminated = &apperr.Error{Kind: apperr.KindInvalidTransition, Reason: "eliminated", Message: "contestant has been eliminated"}
	ErrBanned     = &apperr.Error{Kind: apperr.KindInvalidTransition, Reason: "banned", Message: "contestant has been banned"}
	ErrCompleted  = &apperr.Error{Kind: apperr.KindInvalidTransition, Reason: "completed", Message: "contestant has completed this match"}
	ErrRescued    = &apperr.Error{Kind: apperr.KindInvalidTransition, Reason: "awaiting_reinstatement", Message: "contestant rejoins at the next question"}

	ErrQuestionClosed = &apperr.Error{Kind: apperr.KindInvalidTransition, Reason: "question_closed", Message: "question is not open for answers"}
)

// Bulk update failure reasons.
const (
	ReasonNotFound          = "not_found"
	ReasonNotInJudgeGroup   = "not_in_judge_group"
	ReasonInvalidTransition = "invalid_transition"
)
