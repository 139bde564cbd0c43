// Package memory is a mutex-guarded in-process implementation of store.Store
// used by tests and by demo runs without Postgres.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/olympia/go/internal/apperr"
	"github.com/mcdev12/olympia/go/internal/models"
	"github.com/mcdev12/olympia/go/internal/store"
)

type cmKey struct {
	matchID      uuid.UUID
	contestantID uuid.UUID
}

type resultKey struct {
	matchID      uuid.UUID
	contestantID uuid.UUID
	order        int
}

type questionKey struct {
	packageID uuid.UUID
	order     int
}

type state struct {
	matches     map[uuid.UUID]models.Match
	questions   map[questionKey]models.Question
	contestants map[uuid.UUID]models.Contestant
	cms         map[cmKey]models.ContestantMatch
	results     map[resultKey]models.Result
	groups      map[uuid.UUID]models.Group
	rescues     map[uuid.UUID]models.Rescue
	users       map[uuid.UUID]models.User
}

func newState() state {
	return state{
		matches:     make(map[uuid.UUID]models.Match),
		questions:   make(map[questionKey]models.Question),
		contestants: make(map[uuid.UUID]models.Contestant),
		cms:         make(map[cmKey]models.ContestantMatch),
		results:     make(map[resultKey]models.Result),
		groups:      make(map[uuid.UUID]models.Group),
		rescues:     make(map[uuid.UUID]models.Rescue),
		users:       make(map[uuid.UUID]models.User),
	}
}

// clone copies the maps. Stored values never share mutable slices with
// callers, so copying the values is enough.
func (s state) clone() state {
	c := newState()
	for k, v := range s.matches {
		c.matches[k] = v
	}
	for k, v := range s.questions {
		c.questions[k] = v
	}
	for k, v := range s.contestants {
		c.contestants[k] = v
	}
	for k, v := range s.cms {
		c.cms[k] = v
	}
	for k, v := range s.results {
		c.results[k] = v
	}
	for k, v := range s.groups {
		c.groups[k] = v
	}
	for k, v := range s.rescues {
		c.rescues[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	return c
}

// Store implements store.Store in memory.
type Store struct {
	*shared
	// inTx marks the view handed to an InTx callback, which already holds
	// txMu.
	inTx bool
}

type shared struct {
	mu   sync.RWMutex
	txMu sync.Mutex
	data state
	now  func() time.Time
}

var _ store.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{shared: &shared{
		data: newState(),
		now:  func() time.Time { return time.Now().UTC() },
	}}
}

// InTx runs fn with every write rolled back if it fails. Single writes
// outside fn wait for it to finish, so a rollback never discards them.
// Nested calls join the outer transaction.
func (s *Store) InTx(ctx context.Context, fn func(tx store.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	snapshot := s.data.clone()
	s.mu.RUnlock()

	if err := fn(&Store{shared: s.shared, inTx: true}); err != nil {
		s.mu.Lock()
		s.data = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// write orders a single write after any open transaction.
func (s *Store) write() func() {
	if s.inTx {
		return func() {}
	}
	s.txMu.Lock()
	return s.txMu.Unlock
}

// Matches

func (s *Store) CreateMatch(ctx context.Context, m *models.Match) error {
	defer s.write()()
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if _, exists := s.data.matches[m.ID]; exists {
		return fmt.Errorf("match %s: %w", m.ID, apperr.ErrDuplicate)
	}
	now := s.now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	s.data.matches[m.ID] = *m
	return nil
}

func (s *Store) GetMatch(ctx context.Context, id uuid.UUID) (*models.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.data.matches[id]
	if !ok {
		return nil, fmt.Errorf("match %s: %w", id, apperr.ErrMatchNotFound)
	}
	return &m, nil
}

func (s *Store) UpdateMatchState(ctx context.Context, id uuid.UUID, req store.MatchStateUpdate) (*models.Match, error) {
	defer s.write()()
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.data.matches[id]
	if !ok {
		return nil, fmt.Errorf("match %s: %w", id, apperr.ErrMatchNotFound)
	}
	m.Status = req.Status
	m.CurrentQuestion = req.CurrentQuestion
	m.RemainingTime = req.RemainingTime
	m.UpdatedAt = s.now()
	s.data.matches[id] = m
	return &m, nil
}

func (s *Store) UpdateRemainingTime(ctx context.Context, id uuid.UUID, seconds int) error {
	defer s.write()()
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.data.matches[id]
	if !ok {
		return fmt.Errorf("match %s: %w", id, apperr.ErrMatchNotFound)
	}
	m.RemainingTime = seconds
	m.UpdatedAt = s.now()
	s.data.matches[id] = m
	return nil
}

// Questions

func (s *Store) CreateQuestion(ctx context.Context, q *models.Question) error {
	defer s.write()()
	s.mu.Lock()
	defer s.mu.Unlock()
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	stored := *q
	stored.Options = append([]string(nil), q.Options...)
	stored.AcceptedAnswers = append([]string(nil), q.AcceptedAnswers...)
	s.data.questions[questionKey{q.PackageID, q.Order}] = stored
	return nil
}

func (s *Store) GetQuestionByOrder(ctx context.Context, packageID uuid.UUID, order int) (*models.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.data.questions[questionKey{packageID, order}]
	if !ok || !q.IsActive {
		return nil, fmt.Errorf("question %d: %w", order, apperr.ErrQuestionNotFound)
	}
	q.Options = append([]string(nil), q.Options...)
	q.AcceptedAnswers = append([]string(nil), q.AcceptedAnswers...)
	return &q, nil
}

// Contestants

func (s *Store) CreateContestant(ctx context.Context, c *models.Contestant) error {
	defer s.write()()
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Status == "" {
		c.Status = models.ContestantStateActive
	}
	s.data.contestants[c.ID] = *c
	return nil
}

func (s *Store) GetContestant(ctx context.Context, id uuid.UUID) (*models.Contestant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.data.contestants[id]
	if !ok {
		return nil, fmt.Errorf("contestant %s: %w", id, apperr.ErrContestantNotFound)
	}
	return &c, nil
}

func (s *Store) UpdateContestantState(ctx context.Context, id uuid.UUID, st models.ContestantState) error {
	defer s.write()()
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.data.contestants[id]
	if !ok {
		return fmt.Errorf("contestant %s: %w", id, apperr.ErrContestantNotFound)
	}
	c.Status = st
	s.data.contestants[id] = c
	return nil
}

func (s *Store) CreateContestantMatch(ctx context.Context, cm *models.ContestantMatch) error {
	defer s.write()()
	s.mu.Lock()
	defer s.mu.Unlock()
	key := cmKey{cm.MatchID, cm.ContestantID}
	if _, exists := s.data.cms[key]; exists {
		return fmt.Errorf("contestant %s in match %s: %w", cm.ContestantID, cm.MatchID, apperr.ErrDuplicate)
	}
	for k, other := range s.data.cms {
		if k.matchID == cm.MatchID && other.RegistrationNumber == cm.RegistrationNumber {
			return fmt.Errorf("registration number %d: %w", cm.RegistrationNumber, apperr.ErrDuplicate)
		}
	}
	if cm.Status == "" {
		cm.Status = models.ContestantStatusNotStarted
	}
	cm.UpdatedAt = s.now()
	s.data.cms[key] = copyCM(*cm)
	return nil
}

func (s *Store) GetContestantMatch(ctx context.Context, matchID, contestantID uuid.UUID) (*models.ContestantMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cm, ok := s.data.cms[cmKey{matchID, contestantID}]
	if !ok {
		return nil, fmt.Errorf("contestant %s in match %s: %w", contestantID, matchID, apperr.ErrContestantNotFound)
	}
	cm = copyCM(cm)
	return &cm, nil
}

func (s *Store) ListContestantMatches(ctx context.Context, matchID uuid.UUID) ([]models.ContestantMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ContestantMatch
	for k, cm := range s.data.cms {
		if k.matchID == matchID {
			out = append(out, copyCM(cm))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RegistrationNumber < out[j].RegistrationNumber })
	return out, nil
}

func (s *Store) UpdateContestantStatus(ctx context.Context, req store.StatusUpdate) (*models.ContestantMatch, error) {
	defer s.write()()
	s.mu.Lock()
	defer s.mu.Unlock()
	key := cmKey{req.MatchID, req.ContestantID}
	cm, ok := s.data.cms[key]
	if !ok {
		return nil, fmt.Errorf("contestant %s in match %s: %w", req.ContestantID, req.MatchID, apperr.ErrContestantNotFound)
	}
	cm.Status = req.Status
	if req.EliminatedAt != nil {
		v := *req.EliminatedAt
		cm.EliminatedAtQuestionOrder = &v
	}
	if req.RescuedAt != nil {
		v := *req.RescuedAt
		cm.RescuedAtQuestionOrder = &v
	}
	if req.Ban != nil {
		b := *req.Ban
		cm.Ban = &b
	}
	cm.UpdatedAt = s.now()
	s.data.cms[key] = cm
	out := copyCM(cm)
	return &out, nil
}

func (s *Store) SetContestantGroup(ctx context.Context, matchID, contestantID uuid.UUID, groupID *uuid.UUID) error {
	defer s.write()()
	s.mu.Lock()
	defer s.mu.Unlock()
	key := cmKey{matchID, contestantID}
	cm, ok := s.data.cms[key]
	if !ok {
		return fmt.Errorf("contestant %s in match %s: %w", contestantID, matchID, apperr.ErrContestantNotFound)
	}
	if groupID != nil {
		g := *groupID
		cm.GroupID = &g
	} else {
		cm.GroupID = nil
	}
	cm.UpdatedAt = s.now()
	s.data.cms[key] = cm
	return nil
}

func (s *Store) SetRegistrationNumbers(ctx context.Context, matchID uuid.UUID, numbers map[uuid.UUID]int) error {
	defer s.write()()
	s.mu.Lock()
	defer s.mu.Unlock()

	final := make(map[int]uuid.UUID)
	for k, cm := range s.data.cms {
		if k.matchID != matchID {
			continue
		}
		n := cm.RegistrationNumber
		if next, ok := numbers[k.contestantID]; ok {
			n = next
		}
		if other, taken := final[n]; taken {
			return fmt.Errorf("registration number %d used by %s and %s: %w", n, other, k.contestantID, apperr.ErrDuplicate)
		}
		final[n] = k.contestantID
	}
	for contestantID, n := range numbers {
		key := cmKey{matchID, contestantID}
		cm, ok := s.data.cms[key]
		if !ok {
			return fmt.Errorf("contestant %s in match %s: %w", contestantID, matchID, apperr.ErrContestantNotFound)
		}
		cm.RegistrationNumber = n
		s.data.cms[key] = cm
	}
	return nil
}

func (s *Store) DeleteContestantMatch(ctx context.Context, matchID, contestantID uuid.UUID) error {
	defer s.write()()
	s.mu.Lock()
	defer s.mu.Unlock()
	key := cmKey{matchID, contestantID}
	if _, ok := s.data.cms[key]; !ok {
		return fmt.Errorf("contestant %s in match %s: %w", contestantID, matchID, apperr.ErrContestantNotFound)
	}
	delete(s.data.cms, key)
	return nil
}

// Results

func (s *Store) CreateResult(ctx context.Context, r *models.Result) error {
	defer s.write()()
	s.mu.Lock()
	defer s.mu.Unlock()
	key := resultKey{r.MatchID, r.ContestantID, r.QuestionOrder}
	if _, exists := s.data.results[key]; exists {
		return fmt.Errorf("result for question %d: %w", r.QuestionOrder, apperr.ErrDuplicate)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	s.data.results[key] = *r
	return nil
}

func (s *Store) GetResult(ctx context.Context, matchID, contestantID uuid.UUID, order int) (*models.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.data.results[resultKey{matchID, contestantID, order}]
	if !ok {
		return nil, apperr.ErrResultNotFound
	}
	return &r, nil
}

func (s *Store) ListResults(ctx context.Context, matchID uuid.UUID) ([]models.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Result
	for k, r := range s.data.results {
		if k.matchID == matchID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].QuestionOrder != out[j].QuestionOrder {
			return out[i].QuestionOrder < out[j].QuestionOrder
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Groups

func (s *Store) CreateGroup(ctx context.Context, g *models.Group) error {
	defer s.write()()
	s.mu.Lock()
	defer s.mu.Unlock()
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = s.now()
	}
	s.data.groups[g.ID] = copyGroup(*g)
	return nil
}

func (s *Store) GetGroup(ctx context.Context, id uuid.UUID) (*models.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.data.groups[id]
	if !ok {
		return nil, fmt.Errorf("group %s: %w", id, apperr.ErrGroupNotFound)
	}
	g = copyGroup(g)
	return &g, nil
}

func (s *Store) ListGroups(ctx context.Context, matchID uuid.UUID) ([]models.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Group
	for _, g := range s.data.groups {
		if g.MatchID == matchID {
			out = append(out, copyGroup(g))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (s *Store) UpdateGroup(ctx context.Context, g *models.Group) error {
	defer s.write()()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.groups[g.ID]; !ok {
		return fmt.Errorf("group %s: %w", g.ID, apperr.ErrGroupNotFound)
	}
	s.data.groups[g.ID] = copyGroup(*g)
	return nil
}

func (s *Store) SetGroupConfirmation(ctx context.Context, id uuid.UUID, order int) error {
	defer s.write()()
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.data.groups[id]
	if !ok {
		return fmt.Errorf("group %s: %w", id, apperr.ErrGroupNotFound)
	}
	g.ConfirmCurrentQuestion = order
	s.data.groups[id] = g
	return nil
}

func (s *Store) DeleteGroup(ctx context.Context, id uuid.UUID) error {
	defer s.write()()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.groups[id]; !ok {
		return fmt.Errorf("group %s: %w", id, apperr.ErrGroupNotFound)
	}
	delete(s.data.groups, id)
	return nil
}

func (s *Store) DeleteMatchParticipation(ctx context.Context, matchID uuid.UUID) error {
	defer s.write()()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.data.cms {
		if k.matchID == matchID {
			delete(s.data.cms, k)
		}
	}
	for id, g := range s.data.groups {
		if g.MatchID == matchID {
			delete(s.data.groups, id)
		}
	}
	return nil
}

func (s *Store) FindJudgeBookings(ctx context.Context, judgeID uuid.UUID) ([]store.JudgeBooking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.JudgeBooking
	for _, g := range s.data.groups {
		if g.JudgeUserID == nil || *g.JudgeUserID != judgeID {
			continue
		}
		m, ok := s.data.matches[g.MatchID]
		if !ok {
			continue
		}
		out = append(out, store.JudgeBooking{GroupID: g.ID, GroupName: g.Name, Match: m})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Match.StartTime.Before(out[j].Match.StartTime) })
	return out, nil
}

// Rescues

func (s *Store) CreateRescue(ctx context.Context, r *models.Rescue) error {
	defer s.write()()
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	now := s.now()
	r.CreatedAt = now
	r.UpdatedAt = now
	s.data.rescues[r.ID] = copyRescue(*r)
	return nil
}

func (s *Store) GetRescue(ctx context.Context, id uuid.UUID) (*models.Rescue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.data.rescues[id]
	if !ok {
		return nil, fmt.Errorf("rescue %s: %w", id, apperr.ErrRescueNotFound)
	}
	r = copyRescue(r)
	return &r, nil
}

func (s *Store) UpdateRescue(ctx context.Context, r *models.Rescue) error {
	defer s.write()()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.rescues[r.ID]; !ok {
		return fmt.Errorf("rescue %s: %w", r.ID, apperr.ErrRescueNotFound)
	}
	r.UpdatedAt = s.now()
	s.data.rescues[r.ID] = copyRescue(*r)
	return nil
}

func (s *Store) ListRescues(ctx context.Context, matchID uuid.UUID) ([]models.Rescue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Rescue
	for _, r := range s.data.rescues {
		if r.MatchID == matchID {
			out = append(out, copyRescue(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Users

func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	defer s.write()()
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	s.data.users[u.ID] = *u
	return nil
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.data.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, apperr.ErrUserNotFound)
	}
	return &u, nil
}

func copyCM(cm models.ContestantMatch) models.ContestantMatch {
	if cm.GroupID != nil {
		g := *cm.GroupID
		cm.GroupID = &g
	}
	if cm.EliminatedAtQuestionOrder != nil {
		v := *cm.EliminatedAtQuestionOrder
		cm.EliminatedAtQuestionOrder = &v
	}
	if cm.RescuedAtQuestionOrder != nil {
		v := *cm.RescuedAtQuestionOrder
		cm.RescuedAtQuestionOrder = &v
	}
	if cm.Ban != nil {
		b := *cm.Ban
		cm.Ban = &b
	}
	return cm
}

func copyGroup(g models.Group) models.Group {
	if g.JudgeUserID != nil {
		j := *g.JudgeUserID
		g.JudgeUserID = &j
	}
	return g
}

func copyRescue(r models.Rescue) models.Rescue {
	r.ContestantIDs = append([]uuid.UUID(nil), r.ContestantIDs...)
	r.SupportAnswers = append([]models.SupportAnswer(nil), r.SupportAnswers...)
	return r
}
