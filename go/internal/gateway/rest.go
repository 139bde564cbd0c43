package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/olympia/go/internal/apperr"
	"github.com/mcdev12/olympia/go/internal/auth"
	"github.com/mcdev12/olympia/go/internal/group"
	"github.com/mcdev12/olympia/go/internal/match"
)

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.hub.Stats())
}

// handleState handles GET /api/matches/{id}/state. Staff tokens see the
// selected question with its answer; everyone else sees revealed content.
func (s *Service) handleState(w http.ResponseWriter, r *http.Request) {
	matchID, ok := pathID(w, r)
	if !ok {
		return
	}
	audience := match.AudiencePublic
	if token := auth.TokenFromRequest(r); token != "" {
		p, err := s.issuer.Validate(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		audience = audienceOf(p.Role)
	}
	snap, err := s.deps.Matches.Snapshot(r.Context(), matchID, audience)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Service) handleListGroups(w http.ResponseWriter, r *http.Request) {
	matchID, ok := pathID(w, r)
	if !ok {
		return
	}
	p, _ := auth.FromContext(r.Context())
	var (
		views any
		err   error
	)
	if p != nil && p.Role == auth.RoleJudge {
		views, err = s.deps.Groups.JudgeGroups(r.Context(), matchID, p.Subject)
	} else {
		views, err = s.deps.Groups.ListGroups(r.Context(), matchID)
	}
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

type divideRequest struct {
	Groups []group.Layout `json:"groups"`
}

func (s *Service) handleDivide(w http.ResponseWriter, r *http.Request) {
	matchID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req divideRequest
	if !readJSON(w, r, &req) {
		return
	}
	views, err := s.deps.Groups.DivideGroups(r.Context(), matchID, req.Groups)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

type createGroupRequest struct {
	Name    string     `json:"name"`
	JudgeID *uuid.UUID `json:"judge_id,omitempty"`
}

func (s *Service) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	matchID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req createGroupRequest
	if !readJSON(w, r, &req) {
		return
	}
	g, err := s.deps.Groups.CreateGroup(r.Context(), matchID, req.Name, req.JudgeID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

type assignRequest struct {
	Assignments []group.Assignment `json:"assignments"`
}

func (s *Service) handleAssign(w http.ResponseWriter, r *http.Request) {
	matchID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req assignRequest
	if !readJSON(w, r, &req) {
		return
	}
	res, err := s.deps.Groups.AssignContestantsToGroups(r.Context(), matchID, req.Assignments)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type idsRequest struct {
	IDs []uuid.UUID `json:"ids"`
}

func (s *Service) handleReorder(w http.ResponseWriter, r *http.Request) {
	matchID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req idsRequest
	if !readJSON(w, r, &req) {
		return
	}
	views, err := s.deps.Groups.Reorder(r.Context(), matchID, req.IDs)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Service) handleDeleteGroups(w http.ResponseWriter, r *http.Request) {
	matchID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req idsRequest
	if !readJSON(w, r, &req) {
		return
	}
	res, err := s.deps.Groups.DeleteGroups(r.Context(), matchID, req.IDs)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Service) handleRemoveContestants(w http.ResponseWriter, r *http.Request) {
	matchID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req idsRequest
	if !readJSON(w, r, &req) {
		return
	}
	res, err := s.deps.Groups.RemoveContestants(r.Context(), matchID, req.IDs)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type assignJudgeRequest struct {
	JudgeID *uuid.UUID `json:"judge_id"`
}

func (s *Service) handleAssignJudge(w http.ResponseWriter, r *http.Request) {
	groupID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req assignJudgeRequest
	if !readJSON(w, r, &req) {
		return
	}
	g, err := s.deps.Groups.AssignJudge(r.Context(), groupID, req.JudgeID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeAppError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, map[string]string{
		"error": apperr.PublicMessage(err),
		"code":  apperr.Code(err).String(),
	})
}
