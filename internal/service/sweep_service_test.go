package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Freeeeeet/visitor_gate/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpireVisits(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	unused := env.seedVisit(model.VisitStatusPending, intPtr(1), 0)
	reentry := env.seedVisit(model.VisitStatusReady, intPtr(3), 1)
	inside := env.seedVisit(model.VisitStatusActive, intPtr(3), 1)
	denied := env.seedVisit(model.VisitStatusDenied, intPtr(1), 0)
	cancelled := env.seedVisit(model.VisitStatusCancelled, nil, 0)

	env.clock.Advance(2 * time.Hour)
	fresh := env.seedVisit(model.VisitStatusPending, nil, 0)

	n, err := env.sweep.ExpireVisits(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, model.VisitStatusExpired, env.visits.get(unused.ID).Status)
	assert.Equal(t, model.VisitStatusCompleted, env.visits.get(reentry.ID).Status)
	assert.Equal(t, model.VisitStatusActive, env.visits.get(inside.ID).Status, "visitor still inside is never auto-closed")
	assert.Equal(t, model.VisitStatusDenied, env.visits.get(denied.ID).Status)
	assert.Equal(t, model.VisitStatusCancelled, env.visits.get(cancelled.ID).Status)
	assert.Equal(t, model.VisitStatusPending, env.visits.get(fresh.ID).Status)

	expired := env.notifier.ofType(model.NotificationVisitExpired)
	require.Len(t, expired, 2)
	assert.NotEqual(t, expired[0].Message, expired[1].Message)

	// Повторный прогон идемпотентен
	n, err = env.sweep.ExpireVisits(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Len(t, env.notifier.ofType(model.NotificationVisitExpired), 2)
}

func TestNotifyExpiringSoonVisits(t *testing.T) {
	env := newTestEnv(t)
	now := env.clock.Now()

	seed := func(status model.VisitStatus, until time.Duration) *model.Visit {
		return env.visits.put(&model.Visit{
			Type:        model.VisitTypePedestrian,
			Status:      status,
			VisitorName: "Juan",
			ValidFrom:   now.Add(-time.Hour),
			ValidUntil:  now.Add(until),
			HostID:      env.alice.ID,
		})
	}

	inWindow := seed(model.VisitStatusPending, 90*time.Minute)
	upperEdge := seed(model.VisitStatusReady, 120*time.Minute)
	seed(model.VisitStatusPending, 60*time.Minute)  // граница не включается
	seed(model.VisitStatusPending, 121*time.Minute) // ещё рано
	seed(model.VisitStatusActive, 90*time.Minute)   // посетитель внутри
	seed(model.VisitStatusExpired, 90*time.Minute)

	n, err := env.sweep.NotifyExpiringSoonVisits(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	reminders := env.notifier.ofType(model.NotificationVisitExpiring)
	require.Len(t, reminders, 2)
	assert.Equal(t, inWindow.ID, *reminders[0].VisitID)
	assert.Contains(t, reminders[0].Message, "1 h 30 min")
	assert.Equal(t, upperEdge.ID, *reminders[1].VisitID)
	assert.Contains(t, reminders[1].Message, "2 h")

	// Без пометки "уже напомнили" повторный прогон шлёт снова
	n, err = env.sweep.NotifyExpiringSoonVisits(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRunAllCleanupsIsolatesFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	stale, _ := startNotified(t, env, nil, env.alice.ID)
	env.visits.listErr = errors.New("db unavailable")
	env.clock.Advance(20 * time.Minute)

	report := env.sweep.RunAllCleanups(ctx)
	assert.Contains(t, report.ExpiredVisits.Error, "db unavailable")
	assert.Empty(t, report.ExpiringSoon.Error)
	assert.Empty(t, report.TimedOutSession.Error)
	assert.Equal(t, 1, report.TimedOutSession.Processed)

	session, err := env.approvals.GetSession(ctx, stale)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusTimeout, session.Status)
}

func TestRunJobRecoversPanic(t *testing.T) {
	env := newTestEnv(t)

	result := env.sweep.runJob(context.Background(), "boom", func(context.Context) (int, error) {
		panic("nil map")
	})
	assert.Contains(t, result.Error, "nil map")
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "1 h 30 min", formatDuration(90*time.Minute))
	assert.Equal(t, "2 h", formatDuration(2*time.Hour))
	assert.Equal(t, "45 min", formatDuration(45*time.Minute))
}

func TestSweepReportFailed(t *testing.T) {
	assert.False(t, (&SweepReport{}).Failed())
	assert.True(t, (&SweepReport{ExpiringSoon: JobResult{Error: "timeout"}}).Failed())
}
