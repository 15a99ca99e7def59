package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Dosada05/darts-duel/models"
	"github.com/Dosada05/darts-duel/repositories"
	"github.com/google/uuid"
)

// Фейковые репозитории воспроизводят семантику guarded update'ов настоящих:
// методы переходов возвращают false, когда условие по текущей строке не
// выполнено, а не ошибку.

type fakeMatchRepo struct {
	mu      sync.Mutex
	matches map[uuid.UUID]*models.Match
}

func newFakeMatchRepo() *fakeMatchRepo {
	return &fakeMatchRepo{matches: make(map[uuid.UUID]*models.Match)}
}

func (r *fakeMatchRepo) Create(_ context.Context, match *models.Match) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.matches {
		if existing.ChallengerID == match.ChallengerID && !existing.Status.IsTerminal() {
			return repositories.ErrMatchChallengerBusy
		}
	}
	match.CreatedAt = time.Now()
	r.matches[match.ID] = cloneMatch(match)
	return nil
}

func (r *fakeMatchRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	match, ok := r.matches[id]
	if !ok {
		return nil, repositories.ErrMatchNotFound
	}
	return cloneMatch(match), nil
}

func (r *fakeMatchRepo) ListByUser(_ context.Context, userID int, limit int) ([]*models.Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Match
	for _, match := range r.matches {
		if match.IsParticipant(userID) {
			out = append(out, cloneMatch(match))
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *fakeMatchRepo) Accept(_ context.Context, id uuid.UUID, joinDeadline time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	match, ok := r.matches[id]
	if !ok || match.Status != models.MatchStatusPending {
		return false, nil
	}
	match.Status = models.MatchStatusReady
	deadline := joinDeadline
	match.JoinWindowExpiresAt = &deadline
	return true, nil
}

func (r *fakeMatchRepo) JoinLobby(_ context.Context, id uuid.UUID, joinerID int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	match, ok := r.matches[id]
	if !ok || match.Status != models.MatchStatusReady {
		return false, nil
	}
	match.Status = models.MatchStatusLobby
	joiner := joinerID
	match.LobbyJoinedID = &joiner
	return true, nil
}

func (r *fakeMatchRepo) Start(_ context.Context, id uuid.UUID, joinerID int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	match, ok := r.matches[id]
	if !ok || match.Status != models.MatchStatusLobby {
		return false, nil
	}
	if match.LobbyJoinedID == nil || *match.LobbyJoinedID == joinerID {
		return false, nil
	}
	match.Status = models.MatchStatusInProgress
	first := match.ChallengerID
	match.CurrentPlayerID = &first
	return true, nil
}

func (r *fakeMatchRepo) RecordVisit(_ context.Context, id uuid.UUID, actingPlayerID, nextPlayerID int, payload []byte, challengerLegs, receiverLegs int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	match, ok := r.matches[id]
	if !ok || match.Status != models.MatchStatusInProgress {
		return false, nil
	}
	if match.CurrentPlayerID == nil || *match.CurrentPlayerID != actingPlayerID {
		return false, nil
	}
	if err := setLastVisit(match, payload); err != nil {
		return false, err
	}
	next := nextPlayerID
	match.CurrentPlayerID = &next
	match.ChallengerLegs = challengerLegs
	match.ReceiverLegs = receiverLegs
	return true, nil
}

func (r *fakeMatchRepo) CompleteWithVisit(_ context.Context, id uuid.UUID, actingPlayerID int, payload []byte, challengerLegs, receiverLegs int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	match, ok := r.matches[id]
	if !ok || match.Status != models.MatchStatusInProgress {
		return false, nil
	}
	if match.CurrentPlayerID == nil || *match.CurrentPlayerID != actingPlayerID {
		return false, nil
	}
	if err := setLastVisit(match, payload); err != nil {
		return false, err
	}
	match.Status = models.MatchStatusCompleted
	match.CurrentPlayerID = nil
	match.ChallengerLegs = challengerLegs
	match.ReceiverLegs = receiverLegs
	endedBy := actingPlayerID
	reason := models.EndReasonCompleted
	now := time.Now()
	match.EndedBy = &endedBy
	match.EndedReason = &reason
	match.EndedAt = &now
	return true, nil
}

func (r *fakeMatchRepo) Terminate(_ context.Context, id uuid.UUID, from []models.MatchStatus, to models.MatchStatus, endedBy int, reason string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	match, ok := r.matches[id]
	if !ok {
		return false, nil
	}
	matched := false
	for _, status := range from {
		if match.Status == status {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}
	match.Status = to
	by := endedBy
	why := reason
	now := time.Now()
	match.EndedBy = &by
	match.EndedReason = &why
	match.EndedAt = &now
	match.CurrentPlayerID = nil
	return true, nil
}

func (r *fakeMatchRepo) ExpireOverdueChallenges(_ context.Context, now time.Time) ([]*models.Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var expired []*models.Match
	for _, match := range r.matches {
		if match.Status == models.MatchStatusPending &&
			match.ChallengeExpiresAt != nil && match.ChallengeExpiresAt.Before(now) {
			r.expireLocked(match)
			expired = append(expired, cloneMatch(match))
		}
	}
	return expired, nil
}

func (r *fakeMatchRepo) ExpireOverdueJoinWindows(_ context.Context, now time.Time) ([]*models.Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var expired []*models.Match
	for _, match := range r.matches {
		if (match.Status == models.MatchStatusReady || match.Status == models.MatchStatusLobby) &&
			match.JoinWindowExpiresAt != nil && match.JoinWindowExpiresAt.Before(now) {
			r.expireLocked(match)
			expired = append(expired, cloneMatch(match))
		}
	}
	return expired, nil
}

func (r *fakeMatchRepo) expireLocked(match *models.Match) {
	match.Status = models.MatchStatusExpired
	reason := models.EndReasonExpired
	now := time.Now()
	match.EndedReason = &reason
	match.EndedAt = &now
	match.CurrentPlayerID = nil
}

// seed кладёт матч в хранилище напрямую, минуя проверки Create.
func (r *fakeMatchRepo) seed(match *models.Match) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.matches[match.ID] = cloneMatch(match)
}

func setLastVisit(match *models.Match, payload []byte) error {
	var visit models.VisitPayload
	if err := json.Unmarshal(payload, &visit); err != nil {
		return fmt.Errorf("bad visit payload: %w", err)
	}
	match.LastVisit = &visit
	return nil
}

func cloneMatch(match *models.Match) *models.Match {
	clone := *match
	return &clone
}

type fakeLockRepo struct {
	mu    sync.Mutex
	locks map[int]*models.Lock
}

func newFakeLockRepo() *fakeLockRepo {
	return &fakeLockRepo{locks: make(map[int]*models.Lock)}
}

func (r *fakeLockRepo) AcquirePair(_ context.Context, matchID uuid.UUID, userIDs [2]int, status models.LockStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, userID := range userIDs {
		if _, exists := r.locks[userID]; exists {
			return repositories.ErrLockConflict
		}
	}
	now := time.Now()
	for _, userID := range userIDs {
		r.locks[userID] = &models.Lock{
			UserID:    userID,
			MatchID:   matchID,
			Status:    status,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	return nil
}

func (r *fakeLockRepo) GetByUserID(_ context.Context, userID int) (*models.Lock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[userID]
	if !ok {
		return nil, repositories.ErrLockNotFound
	}
	clone := *lock
	return &clone, nil
}

func (r *fakeLockRepo) PromoteByMatch(_ context.Context, matchID uuid.UUID, status models.LockStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, lock := range r.locks {
		if lock.MatchID == matchID {
			lock.Status = status
			lock.UpdatedAt = time.Now()
		}
	}
	return nil
}

func (r *fakeLockRepo) ReleaseByMatch(_ context.Context, matchID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var released int64
	for userID, lock := range r.locks {
		if lock.MatchID == matchID {
			delete(r.locks, userID)
			released++
		}
	}
	return released, nil
}

func (r *fakeLockRepo) ReleaseByUserID(_ context.Context, userID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.locks[userID]; !ok {
		return repositories.ErrLockNotFound
	}
	delete(r.locks, userID)
	return nil
}

func (r *fakeLockRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}

type fakeUserRepo struct {
	mu     sync.Mutex
	nextID int
	users  map[int]*models.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{nextID: 1, users: make(map[int]*models.User)}
}

func (r *fakeUserRepo) Create(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Email == user.Email {
			return repositories.ErrUserEmailConflict
		}
		if existing.Nickname == user.Nickname {
			return repositories.ErrUserNicknameConflict
		}
	}
	user.ID = r.nextID
	r.nextID++
	user.CreatedAt = time.Now()
	clone := *user
	r.users[user.ID] = &clone
	return nil
}

func (r *fakeUserRepo) GetByID(_ context.Context, id int) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return nil, repositories.ErrUserNotFound
	}
	clone := *user
	return &clone, nil
}

func (r *fakeUserRepo) GetByEmail(_ context.Context, email string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Email == email {
			clone := *user
			return &clone, nil
		}
	}
	return nil, repositories.ErrUserNotFound
}

func (r *fakeUserRepo) UpdateAvatarKey(_ context.Context, id int, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return repositories.ErrUserNotFound
	}
	avatarKey := key
	user.AvatarKey = &avatarKey
	return nil
}

type fakeVisitRepo struct {
	mu     sync.Mutex
	visits []*models.Visit
}

func newFakeVisitRepo() *fakeVisitRepo {
	return &fakeVisitRepo{}
}

func (r *fakeVisitRepo) Create(_ context.Context, visit *models.Visit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	turn := 1
	for _, existing := range r.visits {
		if existing.MatchID == visit.MatchID {
			turn++
		}
	}
	visit.ID = int64(len(r.visits) + 1)
	visit.TurnNumber = turn
	visit.CreatedAt = time.Now()
	clone := *visit
	r.visits = append(r.visits, &clone)
	return nil
}

func (r *fakeVisitRepo) ListByMatch(_ context.Context, matchID uuid.UUID) ([]*models.Visit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Visit
	for _, visit := range r.visits {
		if visit.MatchID == matchID {
			clone := *visit
			out = append(out, &clone)
		}
	}
	return out, nil
}

// fakePublisher копит статусы разосланных снапшотов.
type fakePublisher struct {
	mu     sync.Mutex
	events []models.MatchStatus
}

func (p *fakePublisher) MatchUpdated(match *models.Match) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, match.Status)
}

func (p *fakePublisher) published() []models.MatchStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.MatchStatus, len(p.events))
	copy(out, p.events)
	return out
}
