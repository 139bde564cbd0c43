// Package gateway is the real-time and REST surface of the server: it
// authenticates clients, joins them to rooms, decodes their commands and
// delivers router emissions.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/olympia/go/internal/auth"
	"github.com/mcdev12/olympia/go/internal/broadcast"
	"github.com/mcdev12/olympia/go/internal/events"
	"github.com/mcdev12/olympia/go/internal/group"
	"github.com/mcdev12/olympia/go/internal/match"
	"github.com/mcdev12/olympia/go/internal/models"
)

// Groups is the group engine as seen by the REST surface.
type Groups interface {
	Confirmer
	DivideGroups(ctx context.Context, matchID uuid.UUID, layouts []group.Layout) ([]events.GroupView, error)
	CreateGroup(ctx context.Context, matchID uuid.UUID, name string, judgeID *uuid.UUID) (*models.Group, error)
	AssignJudge(ctx context.Context, groupID uuid.UUID, judgeID *uuid.UUID) (*models.Group, error)
	AssignContestantsToGroups(ctx context.Context, matchID uuid.UUID, assignments []group.Assignment) (*group.AssignResult, error)
	RemoveContestants(ctx context.Context, matchID uuid.UUID, contestantIDs []uuid.UUID) (*group.DeleteResult, error)
	DeleteGroups(ctx context.Context, matchID uuid.UUID, groupIDs []uuid.UUID) (*group.DeleteResult, error)
	Reorder(ctx context.Context, matchID uuid.UUID, groupIDs []uuid.UUID) ([]events.GroupView, error)
	ListGroups(ctx context.Context, matchID uuid.UUID) ([]events.GroupView, error)
	JudgeGroups(ctx context.Context, matchID, judgeID uuid.UUID) ([]events.GroupView, error)
}

// Deps are the applications the gateway drives.
type Deps struct {
	Matches     Matches
	Contestants Contestants
	Rescues     Rescues
	Groups      Groups
}

// Service owns the hub and the HTTP routes.
type Service struct {
	hub        *Hub
	issuer     *auth.Issuer
	dispatcher *Dispatcher
	deps       Deps
}

// NewService creates the gateway over hub, which is also the Emitter handed
// to broadcast.NewRouter.
func NewService(hub *Hub, issuer *auth.Issuer, deps Deps) *Service {
	s := &Service{
		hub:    hub,
		issuer: issuer,
		dispatcher: &Dispatcher{
			matches:     deps.Matches,
			contestants: deps.Contestants,
			rescues:     deps.Rescues,
			groups:      deps.Groups,
		},
		deps: deps,
	}
	s.hub.dispatch = s.dispatch
	return s
}

// Start runs the delivery loop until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	s.hub.Start(ctx)
}

// Stats returns connection counts.
func (s *Service) Stats() Stats {
	return s.hub.Stats()
}

func (s *Service) dispatch(ctx context.Context, c *Connection, raw []byte) []byte {
	ack := s.dispatcher.Handle(ctx, session{principal: c.Principal, matchID: c.MatchID, connID: c.ID}, raw)
	data, err := json.Marshal(ack)
	if err != nil {
		log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to marshal ack")
		data, _ = json.Marshal(Ack{Type: "ack", ID: ack.ID, Code: "internal", Error: "internal error"})
	}
	return data
}

// Routes registers every HTTP route on r.
func (s *Service) Routes(r *mux.Router) {
	r.HandleFunc("/ws/matches/{matchID}", s.handleWebSocket).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/matches/{id}/state", s.handleState).Methods(http.MethodGet)
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)

	staff := s.guard(auth.RoleAdmin, auth.RoleJudge)
	admin := s.guard(auth.RoleAdmin)
	api.Handle("/matches/{id}/groups", staff(s.handleListGroups)).Methods(http.MethodGet)
	api.Handle("/matches/{id}/groups", admin(s.handleCreateGroup)).Methods(http.MethodPost)
	api.Handle("/matches/{id}/groups", admin(s.handleDeleteGroups)).Methods(http.MethodDelete)
	api.Handle("/matches/{id}/groups/divide", admin(s.handleDivide)).Methods(http.MethodPost)
	api.Handle("/matches/{id}/groups/assign", admin(s.handleAssign)).Methods(http.MethodPost)
	api.Handle("/matches/{id}/groups/reorder", admin(s.handleReorder)).Methods(http.MethodPost)
	api.Handle("/matches/{id}/contestants", admin(s.handleRemoveContestants)).Methods(http.MethodDelete)
	api.Handle("/groups/{id}/judge", admin(s.handleAssignJudge)).Methods(http.MethodPut)
}

func (s *Service) guard(roles ...auth.Role) func(http.HandlerFunc) http.Handler {
	require := s.issuer.Require(roles...)
	return func(h http.HandlerFunc) http.Handler {
		return require(h)
	}
}

// Handler returns a router with every route registered.
func (s *Service) Handler() http.Handler {
	r := mux.NewRouter()
	s.Routes(r)
	return r
}

// handleWebSocket upgrades /ws/matches/{matchID}?token= and joins the
// connection to the rooms its role may see.
func (s *Service) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	matchID, err := uuid.Parse(mux.Vars(r)["matchID"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid match id")
		return
	}
	p, err := s.issuer.Validate(auth.TokenFromRequest(r))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}
	if !p.CanJoin(matchID) {
		writeError(w, http.StatusForbidden, "token is not valid for this match")
		return
	}
	if _, err := s.deps.Matches.Snapshot(r.Context(), matchID, match.AudiencePublic); err != nil {
		writeAppError(w, err)
		return
	}

	if err := s.hub.upgrade(w, r, p, matchID, roomsFor(p, matchID)); err != nil {
		// The upgrader has already replied to the client.
		log.Error().
			Err(err).
			Str("match_id", matchID.String()).
			Str("subject", p.Subject.String()).
			Msg("failed to upgrade WebSocket connection")
	}
}

func roomsFor(p *auth.Principal, matchID uuid.UUID) []string {
	rooms := []string{broadcast.GlobalRoom}
	switch p.Role {
	case auth.RoleAdmin, auth.RoleViewer:
		rooms = append(rooms, broadcast.ControlRoom(matchID))
	case auth.RoleJudge:
		rooms = append(rooms, broadcast.ControlRoom(matchID), broadcast.JudgeRoom(matchID, p.Subject))
	case auth.RoleContestant:
		rooms = append(rooms, broadcast.StudentRoom(matchID))
	}
	return rooms
}
