package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/olympia/go/internal/apperr"
	"github.com/mcdev12/olympia/go/internal/auth"
	"github.com/mcdev12/olympia/go/internal/contestant"
	"github.com/mcdev12/olympia/go/internal/events"
	"github.com/mcdev12/olympia/go/internal/match"
	"github.com/mcdev12/olympia/go/internal/models"
	"github.com/mcdev12/olympia/go/internal/rescue"
)

// Frame is a client command.
type Frame struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Ack answers exactly one Frame.
type Ack struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	OK    bool   `json:"ok"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// Matches is the match controller as seen by the gateway.
type Matches interface {
	Start(ctx context.Context, matchID uuid.UUID) (*models.Match, error)
	AdvanceToQuestion(ctx context.Context, matchID uuid.UUID, order int) (*models.Match, error)
	ShowQuestion(ctx context.Context, matchID uuid.UUID) (*events.QuestionView, error)
	End(ctx context.Context, matchID uuid.UUID) (*events.MatchStats, error)
	PlayTimer(ctx context.Context, matchID uuid.UUID) (int, error)
	PauseTimer(ctx context.Context, matchID uuid.UUID) (int, error)
	ResetTimer(ctx context.Context, matchID uuid.UUID) (int, error)
	UpdateTimer(ctx context.Context, matchID uuid.UUID, seconds int) (int, error)
	Snapshot(ctx context.Context, matchID uuid.UUID, audience match.Audience) (*match.Snapshot, error)
}

// Contestants is the contestant state machine as seen by the gateway.
type Contestants interface {
	UpdateStatuses(ctx context.Context, req contestant.UpdateStatusesRequest) (*contestant.BulkResult, error)
	Submit(ctx context.Context, req contestant.SubmitRequest) (*contestant.SubmitResult, error)
	Ban(ctx context.Context, req contestant.BanRequest) (*models.ContestantMatch, error)
}

// Rescues is the rescue workflow as seen by the gateway.
type Rescues interface {
	Propose(ctx context.Context, req rescue.ProposeRequest) (*models.Rescue, error)
	Resolve(ctx context.Context, rescueID uuid.UUID) (*models.Rescue, error)
	Cancel(ctx context.Context, rescueID uuid.UUID) (*models.Rescue, error)
	SubmitSupportAnswer(ctx context.Context, rescueID, contestantID uuid.UUID, answer string) (*models.Rescue, error)
}

// Confirmer records judge confirmations.
type Confirmer interface {
	ConfirmQuestion(ctx context.Context, groupID, judgeID uuid.UUID, order int) (*models.Group, error)
}

// Dispatcher decodes frames into commands and runs them.
type Dispatcher struct {
	matches     Matches
	contestants Contestants
	rescues     Rescues
	groups      Confirmer
}

type session struct {
	principal *auth.Principal
	matchID   uuid.UUID
	connID    string
}

type command interface {
	validate() error
	run(ctx context.Context, d *Dispatcher, s session) (any, error)
}

type route struct {
	roles []auth.Role
	build func() command
}

var (
	errForbidden = errors.New("not allowed for this role")

	adminOnly      = []auth.Role{auth.RoleAdmin}
	staffOnly      = []auth.Role{auth.RoleAdmin, auth.RoleJudge}
	judgeOnly      = []auth.Role{auth.RoleJudge}
	contestantOnly = []auth.Role{auth.RoleContestant}
	anyRole        = []auth.Role{auth.RoleAdmin, auth.RoleJudge, auth.RoleContestant, auth.RoleViewer}
)

var routes = map[string]route{
	"match:start":        {adminOnly, func() command { return &startCmd{} }},
	"match:showQuestion": {staffOnly, func() command { return &showQuestionCmd{} }},
	"match:advance":      {staffOnly, func() command { return &advanceCmd{} }},
	"match:end":          {adminOnly, func() command { return &endCmd{} }},
	"match:snapshot":     {anyRole, func() command { return &snapshotCmd{} }},

	"timer:play":   {staffOnly, func() command { return &timerCmd{op: "play"} }},
	"timer:pause":  {staffOnly, func() command { return &timerCmd{op: "pause"} }},
	"timer:reset":  {staffOnly, func() command { return &timerCmd{op: "reset"} }},
	"timer:update": {staffOnly, func() command { return &timerUpdateCmd{} }},

	"contestant:status-update":       {staffOnly, func() command { return &statusCmd{} }},
	"contestant:status-update-admin": {adminOnly, func() command { return &statusCmd{} }},
	"contestant:status-update-judge": {judgeOnly, func() command { return &statusCmd{} }},

	"submit-answer":  {contestantOnly, func() command { return &submitCmd{} }},
	"ban-contestant": {contestantOnly, func() command { return &banCmd{} }},

	"rescue:propose": {adminOnly, func() command { return &proposeCmd{} }},
	"rescue:resolve": {adminOnly, func() command { return &rescueCmd{op: "resolve"} }},
	"rescue:cancel":  {adminOnly, func() command { return &rescueCmd{op: "cancel"} }},
	"rescue:support": {contestantOnly, func() command { return &supportCmd{} }},

	"group:confirm": {judgeOnly, func() command { return &confirmCmd{} }},
}

// decode resolves the command for frame and checks that role may send it.
func decode(frame Frame, role auth.Role) (command, error) {
	rt, ok := routes[frame.Type]
	if !ok {
		return nil, apperr.Validation("unknown command %q", frame.Type)
	}
	if !allowed(role, rt.roles) {
		return nil, errForbidden
	}
	cmd := rt.build()
	if len(frame.Data) > 0 && !bytes.Equal(bytes.TrimSpace(frame.Data), []byte("null")) {
		dec := json.NewDecoder(bytes.NewReader(frame.Data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cmd); err != nil {
			return nil, apperr.Validation("invalid %s payload: %v", frame.Type, err)
		}
	}
	if err := cmd.validate(); err != nil {
		return nil, err
	}
	return cmd, nil
}

func allowed(role auth.Role, roles []auth.Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// Handle runs one raw frame and returns the encoded ack.
func (d *Dispatcher) Handle(ctx context.Context, s session, raw []byte) Ack {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return d.fail(s, frame, apperr.Validation("malformed frame: %v", err))
	}
	cmd, err := decode(frame, s.principal.Role)
	if err != nil {
		return d.fail(s, frame, err)
	}
	data, err := cmd.run(ctx, d, s)
	if err != nil {
		return d.fail(s, frame, err)
	}
	return Ack{Type: "ack", ID: frame.ID, OK: true, Data: data}
}

func (d *Dispatcher) fail(s session, frame Frame, err error) Ack {
	ack := Ack{Type: "ack", ID: frame.ID}
	switch {
	case errors.Is(err, errForbidden):
		ack.Code = connect.CodePermissionDenied.String()
		ack.Error = fmt.Sprintf("%s: %s", frame.Type, errForbidden.Error())
	default:
		ack.Code = apperr.Code(err).String()
		ack.Error = apperr.PublicMessage(err)
		if apperr.KindOf(err) == apperr.KindInternal {
			log.Error().
				Err(err).
				Str("match_id", s.matchID.String()).
				Str("command", frame.Type).
				Str("connection_id", s.connID).
				Msg("command failed")
		}
	}
	return ack
}

type startCmd struct{}

func (c *startCmd) validate() error { return nil }
func (c *startCmd) run(ctx context.Context, d *Dispatcher, s session) (any, error) {
	m, err := d.matches.Start(ctx, s.matchID)
	if err != nil {
		return nil, err
	}
	return events.NewMatchState(m), nil
}

type showQuestionCmd struct{}

func (c *showQuestionCmd) validate() error { return nil }
func (c *showQuestionCmd) run(ctx context.Context, d *Dispatcher, s session) (any, error) {
	return d.matches.ShowQuestion(ctx, s.matchID)
}

type advanceCmd struct {
	QuestionOrder int `json:"question_order"`
}

func (c *advanceCmd) validate() error {
	if c.QuestionOrder <= 0 {
		return apperr.Validation("question_order must be positive")
	}
	return nil
}
func (c *advanceCmd) run(ctx context.Context, d *Dispatcher, s session) (any, error) {
	m, err := d.matches.AdvanceToQuestion(ctx, s.matchID, c.QuestionOrder)
	if err != nil {
		return nil, err
	}
	return events.NewMatchState(m), nil
}

type endCmd struct{}

func (c *endCmd) validate() error { return nil }
func (c *endCmd) run(ctx context.Context, d *Dispatcher, s session) (any, error) {
	return d.matches.End(ctx, s.matchID)
}

type snapshotCmd struct{}

func (c *snapshotCmd) validate() error { return nil }
func (c *snapshotCmd) run(ctx context.Context, d *Dispatcher, s session) (any, error) {
	return d.matches.Snapshot(ctx, s.matchID, audienceOf(s.principal.Role))
}

type timerCmd struct {
	op string
}

type timerResult struct {
	RemainingTime int `json:"remaining_time"`
}

func (c *timerCmd) validate() error { return nil }
func (c *timerCmd) run(ctx context.Context, d *Dispatcher, s session) (any, error) {
	var (
		remaining int
		err       error
	)
	switch c.op {
	case "play":
		remaining, err = d.matches.PlayTimer(ctx, s.matchID)
	case "pause":
		remaining, err = d.matches.PauseTimer(ctx, s.matchID)
	default:
		remaining, err = d.matches.ResetTimer(ctx, s.matchID)
	}
	if err != nil {
		return nil, err
	}
	return timerResult{RemainingTime: remaining}, nil
}

type timerUpdateCmd struct {
	RemainingTime *int `json:"remaining_time"`
}

func (c *timerUpdateCmd) validate() error {
	if c.RemainingTime == nil {
		return apperr.Validation("remaining_time is required")
	}
	if *c.RemainingTime <= 0 {
		return apperr.Validation("remaining_time must be positive")
	}
	return nil
}
func (c *timerUpdateCmd) run(ctx context.Context, d *Dispatcher, s session) (any, error) {
	remaining, err := d.matches.UpdateTimer(ctx, s.matchID, *c.RemainingTime)
	if err != nil {
		return nil, err
	}
	return timerResult{RemainingTime: remaining}, nil
}

type statusCmd struct {
	Status              models.ContestantStatus `json:"status"`
	RegistrationNumbers []int                   `json:"registration_numbers"`
}

func (c *statusCmd) validate() error {
	if !c.Status.Valid() {
		return apperr.Validation("unknown status %q", c.Status)
	}
	if len(c.RegistrationNumbers) == 0 {
		return apperr.Validation("registration_numbers is required")
	}
	return nil
}
func (c *statusCmd) run(ctx context.Context, d *Dispatcher, s session) (any, error) {
	req := contestant.UpdateStatusesRequest{
		MatchID:             s.matchID,
		Status:              c.Status,
		RegistrationNumbers: c.RegistrationNumbers,
	}
	if s.principal.Role == auth.RoleJudge {
		judgeID := s.principal.Subject
		req.JudgeID = &judgeID
	}
	return d.contestants.UpdateStatuses(ctx, req)
}

type submitCmd struct {
	QuestionOrder int    `json:"question_order"`
	Answer        string `json:"answer"`
}

func (c *submitCmd) validate() error {
	if c.QuestionOrder <= 0 {
		return apperr.Validation("question_order must be positive")
	}
	return nil
}
func (c *submitCmd) run(ctx context.Context, d *Dispatcher, s session) (any, error) {
	return d.contestants.Submit(ctx, contestant.SubmitRequest{
		MatchID:       s.matchID,
		ContestantID:  s.principal.Subject,
		QuestionOrder: c.QuestionOrder,
		Answer:        c.Answer,
	})
}

type banCmd struct {
	Reason         string `json:"reason"`
	ViolationType  string `json:"violation_type"`
	ViolationCount int    `json:"violation_count"`
}

func (c *banCmd) validate() error {
	if c.ViolationCount < 0 {
		return apperr.Validation("violation_count cannot be negative")
	}
	return nil
}
func (c *banCmd) run(ctx context.Context, d *Dispatcher, s session) (any, error) {
	return d.contestants.Ban(ctx, contestant.BanRequest{
		MatchID:        s.matchID,
		ContestantID:   s.principal.Subject,
		Reason:         c.Reason,
		ViolationType:  c.ViolationType,
		ViolationCount: c.ViolationCount,
	})
}

type proposeCmd struct {
	RegistrationNumbers []int `json:"registration_numbers"`
	Seconds             int   `json:"seconds"`
}

func (c *proposeCmd) validate() error {
	if len(c.RegistrationNumbers) == 0 {
		return apperr.Validation("registration_numbers is required")
	}
	if c.Seconds < 0 {
		return apperr.Validation("seconds cannot be negative")
	}
	return nil
}
func (c *proposeCmd) run(ctx context.Context, d *Dispatcher, s session) (any, error) {
	return d.rescues.Propose(ctx, rescue.ProposeRequest{
		MatchID:             s.matchID,
		RegistrationNumbers: c.RegistrationNumbers,
		Seconds:             c.Seconds,
	})
}

type rescueCmd struct {
	op       string
	RescueID uuid.UUID `json:"rescue_id"`
}

func (c *rescueCmd) validate() error {
	if c.RescueID == uuid.Nil {
		return apperr.Validation("rescue_id is required")
	}
	return nil
}
func (c *rescueCmd) run(ctx context.Context, d *Dispatcher, s session) (any, error) {
	if c.op == "resolve" {
		return d.rescues.Resolve(ctx, c.RescueID)
	}
	return d.rescues.Cancel(ctx, c.RescueID)
}

type supportCmd struct {
	RescueID uuid.UUID `json:"rescue_id"`
	Answer   string    `json:"answer"`
}

func (c *supportCmd) validate() error {
	if c.RescueID == uuid.Nil {
		return apperr.Validation("rescue_id is required")
	}
	if c.Answer == "" {
		return apperr.Validation("answer is required")
	}
	return nil
}
func (c *supportCmd) run(ctx context.Context, d *Dispatcher, s session) (any, error) {
	return d.rescues.SubmitSupportAnswer(ctx, c.RescueID, s.principal.Subject, c.Answer)
}

type confirmCmd struct {
	GroupID       uuid.UUID `json:"group_id"`
	QuestionOrder int       `json:"question_order"`
}

func (c *confirmCmd) validate() error {
	if c.GroupID == uuid.Nil {
		return apperr.Validation("group_id is required")
	}
	if c.QuestionOrder <= 0 {
		return apperr.Validation("question_order must be positive")
	}
	return nil
}
func (c *confirmCmd) run(ctx context.Context, d *Dispatcher, s session) (any, error) {
	return d.groups.ConfirmQuestion(ctx, c.GroupID, s.principal.Subject, c.QuestionOrder)
}

func audienceOf(role auth.Role) match.Audience {
	switch role {
	case auth.RoleAdmin, auth.RoleJudge:
		return match.AudienceStaff
	case auth.RoleContestant:
		return match.AudienceContestant
	default:
		return match.AudiencePublic
	}
}
