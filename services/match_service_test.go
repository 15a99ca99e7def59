package services

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Dosada05/darts-duel/models"
	"github.com/Dosada05/darts-duel/scoring"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type matchServiceFixture struct {
	service   MatchService
	matches   *fakeMatchRepo
	locks     *fakeLockRepo
	users     *fakeUserRepo
	visits    *fakeVisitRepo
	publisher *fakePublisher
}

func newMatchServiceFixture(t *testing.T) *matchServiceFixture {
	t.Helper()
	f := &matchServiceFixture{
		matches:   newFakeMatchRepo(),
		locks:     newFakeLockRepo(),
		users:     newFakeUserRepo(),
		visits:    newFakeVisitRepo(),
		publisher: &fakePublisher{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.service = NewMatchService(
		f.matches, f.locks, f.users, f.visits,
		scoring.NewX01Engine(), f.publisher, logger,
		24*time.Hour, 5*time.Minute,
	)
	return f
}

func (f *matchServiceFixture) addUser(t *testing.T, nickname string) int {
	t.Helper()
	user := &models.User{Nickname: nickname, Email: nickname + "@darts.test", PasswordHash: "x"}
	require.NoError(t, f.users.Create(context.Background(), user))
	return user.ID
}

// startedMatch прогоняет весь путь challenge -> accept -> join -> join и
// возвращает матч в статусе in_progress.
func (f *matchServiceFixture) startedMatch(t *testing.T, challengerID, receiverID int) *models.Match {
	t.Helper()
	ctx := context.Background()

	match, err := f.service.CreateChallenge(ctx, challengerID, CreateChallengeInput{
		ReceiverID: receiverID, GameType: "501", MatchFormat: 3,
	})
	require.NoError(t, err)

	_, err = f.service.AcceptChallenge(ctx, receiverID, match.ID)
	require.NoError(t, err)
	_, err = f.service.JoinMatch(ctx, receiverID, match.ID)
	require.NoError(t, err)
	started, err := f.service.JoinMatch(ctx, challengerID, match.ID)
	require.NoError(t, err)
	require.Equal(t, models.MatchStatusInProgress, started.Status)
	return started
}

func TestCreateChallengeValidation(t *testing.T) {
	f := newMatchServiceFixture(t)
	ctx := context.Background()
	alice := f.addUser(t, "alice")
	bob := f.addUser(t, "bob")

	_, err := f.service.CreateChallenge(ctx, alice, CreateChallengeInput{ReceiverID: alice, GameType: "501", MatchFormat: 3})
	assert.ErrorIs(t, err, ErrSelfChallenge)

	_, err = f.service.CreateChallenge(ctx, alice, CreateChallengeInput{ReceiverID: bob, GameType: "701", MatchFormat: 3})
	assert.ErrorIs(t, err, ErrInvalidGameType)

	_, err = f.service.CreateChallenge(ctx, alice, CreateChallengeInput{ReceiverID: bob, GameType: "501", MatchFormat: 4})
	assert.ErrorIs(t, err, ErrInvalidMatchFormat)

	_, err = f.service.CreateChallenge(ctx, alice, CreateChallengeInput{ReceiverID: 999, GameType: "501", MatchFormat: 3})
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestCreateChallengeSetsDeadlineAndPublishes(t *testing.T) {
	f := newMatchServiceFixture(t)
	ctx := context.Background()
	alice := f.addUser(t, "alice")
	bob := f.addUser(t, "bob")

	match, err := f.service.CreateChallenge(ctx, alice, CreateChallengeInput{ReceiverID: bob, GameType: "301", MatchFormat: 1})
	require.NoError(t, err)

	assert.Equal(t, models.MatchStatusPending, match.Status)
	assert.Equal(t, alice, match.ChallengerID)
	assert.Equal(t, bob, match.ReceiverID)
	require.NotNil(t, match.ChallengeExpiresAt)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), *match.ChallengeExpiresAt, time.Minute)
	assert.Equal(t, []models.MatchStatus{models.MatchStatusPending}, f.publisher.published())
}

func TestCreateChallengeSecondActiveChallengeRejected(t *testing.T) {
	f := newMatchServiceFixture(t)
	ctx := context.Background()
	alice := f.addUser(t, "alice")
	bob := f.addUser(t, "bob")
	carol := f.addUser(t, "carol")

	_, err := f.service.CreateChallenge(ctx, alice, CreateChallengeInput{ReceiverID: bob, GameType: "501", MatchFormat: 3})
	require.NoError(t, err)

	_, err = f.service.CreateChallenge(ctx, alice, CreateChallengeInput{ReceiverID: carol, GameType: "501", MatchFormat: 3})
	assert.ErrorIs(t, err, ErrActiveMatchExists)
}

func TestAcceptChallenge(t *testing.T) {
	f := newMatchServiceFixture(t)
	ctx := context.Background()
	alice := f.addUser(t, "alice")
	bob := f.addUser(t, "bob")

	match, err := f.service.CreateChallenge(ctx, alice, CreateChallengeInput{ReceiverID: bob, GameType: "501", MatchFormat: 3})
	require.NoError(t, err)

	// Принять может только вызванный.
	_, err = f.service.AcceptChallenge(ctx, alice, match.ID)
	assert.ErrorIs(t, err, ErrNotReceiver)

	accepted, err := f.service.AcceptChallenge(ctx, bob, match.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusReady, accepted.Status)
	require.NotNil(t, accepted.JoinWindowExpiresAt)

	// Оба участника заблокированы.
	assert.Equal(t, 2, f.locks.count())
	lock, err := f.locks.GetByUserID(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, match.ID, lock.MatchID)
	assert.Equal(t, models.LockStatusReady, lock.Status)

	// Повторный accept: матч уже не pending.
	_, err = f.service.AcceptChallenge(ctx, bob, match.ID)
	assert.ErrorIs(t, err, ErrInvalidMatchState)
}

func TestAcceptChallengeUnknownMatch(t *testing.T) {
	f := newMatchServiceFixture(t)
	bob := f.addUser(t, "bob")

	_, err := f.service.AcceptChallenge(context.Background(), bob, uuid.New())
	assert.ErrorIs(t, err, ErrMatchNotFound)
}

func TestAcceptChallengeLockConflict(t *testing.T) {
	f := newMatchServiceFixture(t)
	ctx := context.Background()
	bob := f.addUser(t, "bob")
	carol := f.addUser(t, "carol")
	dave := f.addUser(t, "dave")

	// bob уже связан другим активным матчем.
	f.startedMatch(t, bob, carol)

	match, err := f.service.CreateChallenge(ctx, dave, CreateChallengeInput{ReceiverID: bob, GameType: "501", MatchFormat: 3})
	require.NoError(t, err)

	_, err = f.service.AcceptChallenge(ctx, bob, match.ID)
	assert.ErrorIs(t, err, ErrLockConflict)

	// Строка матча осталась нетронутой.
	pending, err := f.matches.GetByID(ctx, match.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusPending, pending.Status)
}

func TestAcceptChallengeExpiredDeadline(t *testing.T) {
	f := newMatchServiceFixture(t)
	ctx := context.Background()
	alice := f.addUser(t, "alice")
	bob := f.addUser(t, "bob")

	past := time.Now().Add(-time.Minute)
	match := &models.Match{
		ID:                 uuid.New(),
		Status:             models.MatchStatusPending,
		ChallengerID:       alice,
		ReceiverID:         bob,
		GameType:           models.GameType501,
		MatchFormat:        3,
		ChallengeExpiresAt: &past,
	}
	f.matches.seed(match)

	_, err := f.service.AcceptChallenge(ctx, bob, match.ID)
	assert.ErrorIs(t, err, ErrChallengeExpired)

	// Заметивший дедлайн перевёл матч в expired.
	current, err := f.matches.GetByID(ctx, match.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusExpired, current.Status)
	assert.Equal(t, 0, f.locks.count())
}

func TestJoinMatchTwoPhase(t *testing.T) {
	f := newMatchServiceFixture(t)
	ctx := context.Background()
	alice := f.addUser(t, "alice")
	bob := f.addUser(t, "bob")

	match, err := f.service.CreateChallenge(ctx, alice, CreateChallengeInput{ReceiverID: bob, GameType: "501", MatchFormat: 3})
	require.NoError(t, err)
	_, err = f.service.AcceptChallenge(ctx, bob, match.ID)
	require.NoError(t, err)

	// Первый вход: ready -> lobby.
	inLobby, err := f.service.JoinMatch(ctx, bob, match.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusLobby, inLobby.Status)
	require.NotNil(t, inLobby.LobbyJoinedID)
	assert.Equal(t, bob, *inLobby.LobbyJoinedID)

	// Повторный вход того же участника ничего не двигает.
	again, err := f.service.JoinMatch(ctx, bob, match.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusLobby, again.Status)

	// Второй участник стартует матч; первым ходит челленджер.
	started, err := f.service.JoinMatch(ctx, alice, match.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusInProgress, started.Status)
	require.NotNil(t, started.CurrentPlayerID)
	assert.Equal(t, alice, *started.CurrentPlayerID)

	lock, err := f.locks.GetByUserID(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, models.LockStatusInProgress, lock.Status)

	// join на идущем матче - идемпотентный успех для обоих.
	idem, err := f.service.JoinMatch(ctx, bob, match.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusInProgress, idem.Status)
}

func TestJoinMatchWindowExpired(t *testing.T) {
	f := newMatchServiceFixture(t)
	ctx := context.Background()
	alice := f.addUser(t, "alice")
	bob := f.addUser(t, "bob")

	past := time.Now().Add(-time.Minute)
	match := &models.Match{
		ID:                  uuid.New(),
		Status:              models.MatchStatusReady,
		ChallengerID:        alice,
		ReceiverID:          bob,
		GameType:            models.GameType501,
		MatchFormat:         3,
		JoinWindowExpiresAt: &past,
	}
	f.matches.seed(match)
	require.NoError(t, f.locks.AcquirePair(ctx, match.ID, [2]int{alice, bob}, models.LockStatusReady))

	_, err := f.service.JoinMatch(ctx, bob, match.ID)
	assert.ErrorIs(t, err, ErrJoinWindowExpired)

	current, err := f.matches.GetByID(ctx, match.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusExpired, current.Status)
	assert.Equal(t, 0, f.locks.count())
}

func TestJoinMatchOutsiderRejected(t *testing.T) {
	f := newMatchServiceFixture(t)
	ctx := context.Background()
	alice := f.addUser(t, "alice")
	bob := f.addUser(t, "bob")
	mallory := f.addUser(t, "mallory")

	match, err := f.service.CreateChallenge(ctx, alice, CreateChallengeInput{ReceiverID: bob, GameType: "501", MatchFormat: 3})
	require.NoError(t, err)

	_, err = f.service.JoinMatch(ctx, mallory, match.ID)
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestCancelMatch(t *testing.T) {
	f := newMatchServiceFixture(t)
	ctx := context.Background()
	alice := f.addUser(t, "alice")
	bob := f.addUser(t, "bob")
	mallory := f.addUser(t, "mallory")

	match, err := f.service.CreateChallenge(ctx, alice, CreateChallengeInput{ReceiverID: bob, GameType: "501", MatchFormat: 3})
	require.NoError(t, err)

	_, err = f.service.CancelMatch(ctx, mallory, match.ID)
	assert.ErrorIs(t, err, ErrNotParticipant)

	cancelled, err := f.service.CancelMatch(ctx, bob, match.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.EndedBy)
	assert.Equal(t, bob, *cancelled.EndedBy)
	require.NotNil(t, cancelled.EndedReason)
	assert.Equal(t, models.EndReasonCancelled, *cancelled.EndedReason)

	// Терминальный матч неизменяем; повторный cancel - ошибка состояния.
	_, err = f.service.CancelMatch(ctx, alice, match.ID)
	assert.ErrorIs(t, err, ErrInvalidMatchState)
}

func TestCancelMatchRejectedOnceStarted(t *testing.T) {
	f := newMatchServiceFixture(t)
	alice := f.addUser(t, "alice")
	bob := f.addUser(t, "bob")
	match := f.startedMatch(t, alice, bob)

	_, err := f.service.CancelMatch(context.Background(), alice, match.ID)
	assert.ErrorIs(t, err, ErrInvalidMatchState)
}

func TestAbortMatchIdempotent(t *testing.T) {
	f := newMatchServiceFixture(t)
	ctx := context.Background()
	alice := f.addUser(t, "alice")
	bob := f.addUser(t, "bob")
	match := f.startedMatch(t, alice, bob)
	require.Equal(t, 2, f.locks.count())

	aborted, alreadyEnded, err := f.service.AbortMatch(ctx, bob, match.ID)
	require.NoError(t, err)
	assert.False(t, alreadyEnded)
	assert.Equal(t, models.MatchStatusCancelled, aborted.Status)
	require.NotNil(t, aborted.EndedReason)
	assert.Equal(t, models.EndReasonAborted, *aborted.EndedReason)
	assert.Equal(t, 0, f.locks.count())

	// Дубль запроса после потери соединения: тот же исход, без ошибки.
	again, alreadyEnded, err := f.service.AbortMatch(ctx, bob, match.ID)
	require.NoError(t, err)
	assert.True(t, alreadyEnded)
	assert.Equal(t, models.MatchStatusCancelled, again.Status)
}

func TestAbortMatchRejectedOnPending(t *testing.T) {
	f := newMatchServiceFixture(t)
	ctx := context.Background()
	alice := f.addUser(t, "alice")
	bob := f.addUser(t, "bob")

	match, err := f.service.CreateChallenge(ctx, alice, CreateChallengeInput{ReceiverID: bob, GameType: "501", MatchFormat: 3})
	require.NoError(t, err)

	_, _, err = f.service.AbortMatch(ctx, alice, match.ID)
	assert.ErrorIs(t, err, ErrInvalidMatchState)
}

func TestExpireMatchIdempotent(t *testing.T) {
	f := newMatchServiceFixture(t)
	ctx := context.Background()
	alice := f.addUser(t, "alice")
	bob := f.addUser(t, "bob")

	match, err := f.service.CreateChallenge(ctx, alice, CreateChallengeInput{ReceiverID: bob, GameType: "501", MatchFormat: 3})
	require.NoError(t, err)

	expired, alreadyEnded, err := f.service.ExpireMatch(ctx, alice, match.ID)
	require.NoError(t, err)
	assert.False(t, alreadyEnded)
	assert.Equal(t, models.MatchStatusExpired, expired.Status)

	_, alreadyEnded, err = f.service.ExpireMatch(ctx, bob, match.ID)
	require.NoError(t, err)
	assert.True(t, alreadyEnded)
}

func TestSaveVisitTurnOrder(t *testing.T) {
	f := newMatchServiceFixture(t)
	ctx := context.Background()
	alice := f.addUser(t, "alice")
	bob := f.addUser(t, "bob")
	match := f.startedMatch(t, alice, bob)

	// Очередь у челленджера; бросок получателя отклоняется.
	_, err := f.service.SaveVisit(ctx, bob, match.ID, SaveVisitInput{Darts: [3]int{20, 20, 20}, ScoreBefore: 501, ScoreAfter: 441})
	assert.ErrorIs(t, err, ErrNotYourTurn)

	result, err := f.service.SaveVisit(ctx, alice, match.ID, SaveVisitInput{Darts: [3]int{60, 60, 60}, ScoreBefore: 501, ScoreAfter: 321})
	require.NoError(t, err)
	assert.False(t, result.MatchWon)
	require.NotNil(t, result.NextPlayerID)
	assert.Equal(t, bob, *result.NextPlayerID)
	require.NotNil(t, result.Match.CurrentPlayerID)
	assert.Equal(t, bob, *result.Match.CurrentPlayerID)

	// Очередь перешла; дубль того же запроса отклоняется.
	_, err = f.service.SaveVisit(ctx, alice, match.ID, SaveVisitInput{Darts: [3]int{60, 60, 60}, ScoreBefore: 501, ScoreAfter: 321})
	assert.ErrorIs(t, err, ErrNotYourTurn)

	result, err = f.service.SaveVisit(ctx, bob, match.ID, SaveVisitInput{Darts: [3]int{20, 5, 1}, ScoreBefore: 501, ScoreAfter: 475})
	require.NoError(t, err)
	require.NotNil(t, result.NextPlayerID)
	assert.Equal(t, alice, *result.NextPlayerID)
}

func TestSaveVisitRejectsMisreportedScore(t *testing.T) {
	f := newMatchServiceFixture(t)
	ctx := context.Background()
	alice := f.addUser(t, "alice")
	bob := f.addUser(t, "bob")
	match := f.startedMatch(t, alice, bob)

	// Клиент заявил не тот остаток, что даёт движок.
	_, err := f.service.SaveVisit(ctx, alice, match.ID, SaveVisitInput{Darts: [3]int{60, 60, 60}, ScoreBefore: 501, ScoreAfter: 300})
	assert.ErrorIs(t, err, ErrInvalidVisit)

	// Дротик за пределами допустимого.
	_, err = f.service.SaveVisit(ctx, alice, match.ID, SaveVisitInput{Darts: [3]int{61, 0, 0}, ScoreBefore: 501, ScoreAfter: 440})
	assert.ErrorIs(t, err, ErrInvalidVisit)
}

func TestSaveVisitBustKeepsScore(t *testing.T) {
	f := newMatchServiceFixture(t)
	ctx := context.Background()
	alice := f.addUser(t, "alice")
	bob := f.addUser(t, "bob")
	match := f.startedMatch(t, alice, bob)

	// 40 - 39 = 1: перебор, счёт остаётся прежним, очередь уходит.
	result, err := f.service.SaveVisit(ctx, alice, match.ID, SaveVisitInput{Darts: [3]int{39, 0, 0}, ScoreBefore: 40, ScoreAfter: 40})
	require.NoError(t, err)
	require.NotNil(t, result.Match.LastVisit)
	assert.True(t, result.Match.LastVisit.Bust)
	assert.Equal(t, 40, result.Match.LastVisit.ScoreAfter)
	require.NotNil(t, result.NextPlayerID)
	assert.Equal(t, bob, *result.NextPlayerID)
}

func TestSaveVisitWinsLegAndMatch(t *testing.T) {
	f := newMatchServiceFixture(t)
	ctx := context.Background()
	alice := f.addUser(t, "alice")
	bob := f.addUser(t, "bob")

	// best-of-1: первый выигранный лег решает матч.
	match, err := f.service.CreateChallenge(ctx, alice, CreateChallengeInput{ReceiverID: bob, GameType: "301", MatchFormat: 1})
	require.NoError(t, err)
	_, err = f.service.AcceptChallenge(ctx, bob, match.ID)
	require.NoError(t, err)
	_, err = f.service.JoinMatch(ctx, bob, match.ID)
	require.NoError(t, err)
	_, err = f.service.JoinMatch(ctx, alice, match.ID)
	require.NoError(t, err)

	result, err := f.service.SaveVisit(ctx, alice, match.ID, SaveVisitInput{Darts: [3]int{40, 0, 0}, ScoreBefore: 40, ScoreAfter: 0})
	require.NoError(t, err)
	assert.True(t, result.MatchWon)
	assert.Nil(t, result.NextPlayerID)
	assert.Equal(t, models.MatchStatusCompleted, result.Match.Status)
	assert.Equal(t, 1, result.Match.ChallengerLegs)
	assert.Nil(t, result.Match.CurrentPlayerID)
	require.NotNil(t, result.Match.EndedReason)
	assert.Equal(t, models.EndReasonCompleted, *result.Match.EndedReason)
	assert.Equal(t, 0, f.locks.count())

	// После завершения матч неизменяем.
	_, err = f.service.SaveVisit(ctx, bob, match.ID, SaveVisitInput{Darts: [3]int{20, 0, 0}, ScoreBefore: 301, ScoreAfter: 281})
	assert.ErrorIs(t, err, ErrInvalidMatchState)

	// abort и expire на завершённом матче - идемпотентный успех, поля
	// ended_* не трогаются.
	aborted, alreadyEnded, err := f.service.AbortMatch(ctx, alice, match.ID)
	require.NoError(t, err)
	assert.True(t, alreadyEnded)
	assert.Equal(t, models.MatchStatusCompleted, aborted.Status)
	assert.Equal(t, *result.Match.EndedReason, *aborted.EndedReason)
	assert.Equal(t, *result.Match.EndedBy, *aborted.EndedBy)

	expired, alreadyEnded, err := f.service.ExpireMatch(ctx, bob, match.ID)
	require.NoError(t, err)
	assert.True(t, alreadyEnded)
	assert.Equal(t, models.MatchStatusCompleted, expired.Status)
}

func TestSaveVisitAppendsHistory(t *testing.T) {
	f := newMatchServiceFixture(t)
	ctx := context.Background()
	alice := f.addUser(t, "alice")
	bob := f.addUser(t, "bob")
	match := f.startedMatch(t, alice, bob)

	_, err := f.service.SaveVisit(ctx, alice, match.ID, SaveVisitInput{Darts: [3]int{60, 60, 60}, ScoreBefore: 501, ScoreAfter: 321})
	require.NoError(t, err)
	_, err = f.service.SaveVisit(ctx, bob, match.ID, SaveVisitInput{Darts: [3]int{20, 20, 20}, ScoreBefore: 501, ScoreAfter: 441})
	require.NoError(t, err)

	visits, err := f.service.ListVisits(ctx, alice, match.ID)
	require.NoError(t, err)
	require.Len(t, visits, 2)
	assert.Equal(t, 1, visits[0].TurnNumber)
	assert.Equal(t, alice, visits[0].PlayerID)
	assert.Equal(t, 2, visits[1].TurnNumber)
	assert.Equal(t, bob, visits[1].PlayerID)
}

func TestGetMatchParticipantOnly(t *testing.T) {
	f := newMatchServiceFixture(t)
	ctx := context.Background()
	alice := f.addUser(t, "alice")
	bob := f.addUser(t, "bob")
	mallory := f.addUser(t, "mallory")

	match, err := f.service.CreateChallenge(ctx, alice, CreateChallengeInput{ReceiverID: bob, GameType: "501", MatchFormat: 3})
	require.NoError(t, err)

	_, err = f.service.GetMatch(ctx, mallory, match.ID)
	assert.ErrorIs(t, err, ErrNotParticipant)

	got, err := f.service.GetMatch(ctx, bob, match.ID)
	require.NoError(t, err)
	assert.Equal(t, match.ID, got.ID)
}

func TestExpireOverdueSweep(t *testing.T) {
	f := newMatchServiceFixture(t)
	ctx := context.Background()
	alice := f.addUser(t, "alice")
	bob := f.addUser(t, "bob")
	carol := f.addUser(t, "carol")
	dave := f.addUser(t, "dave")

	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)

	overdueChallenge := &models.Match{
		ID: uuid.New(), Status: models.MatchStatusPending,
		ChallengerID: alice, ReceiverID: bob,
		GameType: models.GameType501, MatchFormat: 3,
		ChallengeExpiresAt: &past,
	}
	overdueJoin := &models.Match{
		ID: uuid.New(), Status: models.MatchStatusReady,
		ChallengerID: carol, ReceiverID: dave,
		GameType: models.GameType501, MatchFormat: 3,
		JoinWindowExpiresAt: &past,
	}
	fresh := &models.Match{
		ID: uuid.New(), Status: models.MatchStatusPending,
		ChallengerID: bob, ReceiverID: carol,
		GameType: models.GameType501, MatchFormat: 3,
		ChallengeExpiresAt: &future,
	}
	f.matches.seed(overdueChallenge)
	f.matches.seed(overdueJoin)
	f.matches.seed(fresh)
	require.NoError(t, f.locks.AcquirePair(ctx, overdueJoin.ID, [2]int{carol, dave}, models.LockStatusReady))

	expired, err := f.service.ExpireOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), expired)

	for _, id := range []uuid.UUID{overdueChallenge.ID, overdueJoin.ID} {
		current, err := f.matches.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.MatchStatusExpired, current.Status)
	}
	untouched, err := f.matches.GetByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusPending, untouched.Status)
	assert.Equal(t, 0, f.locks.count())
}

func TestStaleLockSelfHealing(t *testing.T) {
	f := newMatchServiceFixture(t)
	ctx := context.Background()
	alice := f.addUser(t, "alice")
	bob := f.addUser(t, "bob")

	// Блокировка ссылается на уже завершённый матч: осиротела после сбоя
	// между терминальным переходом и снятием блокировок.
	done := &models.Match{
		ID: uuid.New(), Status: models.MatchStatusCompleted,
		ChallengerID: alice, ReceiverID: bob,
		GameType: models.GameType501, MatchFormat: 3,
	}
	f.matches.seed(done)
	require.NoError(t, f.locks.AcquirePair(ctx, done.ID, [2]int{alice, bob}, models.LockStatusInProgress))

	match, err := f.service.CreateChallenge(ctx, alice, CreateChallengeInput{ReceiverID: bob, GameType: "501", MatchFormat: 3})
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusPending, match.Status)

	// Осиротевшая блокировка челленджера удалена по ходу проверки.
	_, err = f.locks.GetByUserID(ctx, alice)
	assert.Error(t, err)
}
