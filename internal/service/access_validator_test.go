package service

import (
	"context"
	"testing"
	"time"

	"github.com/Freeeeeet/visitor_gate/internal/events"
	"github.com/Freeeeeet/visitor_gate/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAccessByQR(t *testing.T) {
	env := newTestEnv(t)
	visit := env.seedVisit(model.VisitStatusPending, intPtr(1), 0)

	decision, err := env.validator.ValidateAccess(context.Background(), visit.AccessCredential, CredentialQR)
	require.NoError(t, err)
	assert.True(t, decision.Valid)
	assert.Equal(t, visit.ID, decision.Visit.ID)
	assert.Equal(t, 1, env.publisher.count(events.VisitAccessValidated))

	// Проверка не меняет визит
	assert.Equal(t, model.VisitStatusPending, env.visits.get(visit.ID).Status)
	assert.Equal(t, 0, env.visits.updates)
}

func TestValidateAccessRejections(t *testing.T) {
	tests := []struct {
		name    string
		status  model.VisitStatus
		maxUses *int
		used    int
		setup   func(env *testEnv, v *model.Visit)
		message string
	}{
		{name: "cancelled", status: model.VisitStatusCancelled, message: msgVisitCancelled},
		{name: "completed", status: model.VisitStatusCompleted, maxUses: intPtr(1), used: 1, message: msgVisitCompleted},
		{name: "denied", status: model.VisitStatusDenied, maxUses: intPtr(1), message: msgVisitDenied},
		{name: "ready with quota exhausted", status: model.VisitStatusReady, maxUses: intPtr(2), used: 2, message: msgQuotaExhausted},
		{
			name:    "not yet valid",
			status:  model.VisitStatusPending,
			message: msgNotYetValid,
			setup: func(env *testEnv, v *model.Visit) {
				v.ValidFrom = env.clock.Now().Add(time.Hour)
				v.ValidUntil = env.clock.Now().Add(2 * time.Hour)
				env.visits.put(v)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			visit := env.seedVisit(tt.status, tt.maxUses, tt.used)
			if tt.setup != nil {
				tt.setup(env, visit)
			}

			decision, err := env.validator.ValidateAccess(context.Background(), visit.AccessCredential, CredentialQR)
			require.NoError(t, err)
			assert.False(t, decision.Valid)
			assert.Equal(t, tt.message, decision.Message)
			assert.Equal(t, tt.status, env.visits.get(visit.ID).Status)
		})
	}
}

func TestValidateAccessLazyExpiry(t *testing.T) {
	tests := []struct {
		name   string
		status model.VisitStatus
		used   int
		want   model.VisitStatus
	}{
		{"unused pending expires", model.VisitStatusPending, 0, model.VisitStatusExpired},
		{"ready completes", model.VisitStatusReady, 1, model.VisitStatusCompleted},
		{"active completes", model.VisitStatusActive, 1, model.VisitStatusCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()
			visit := env.seedVisit(tt.status, intPtr(3), tt.used)
			env.clock.Advance(90 * time.Minute)

			decision, err := env.validator.ValidateAccess(ctx, visit.AccessCredential, CredentialQR)
			require.NoError(t, err)
			assert.False(t, decision.Valid)
			assert.Equal(t, tt.want, decision.Visit.Status)
			assert.Equal(t, tt.want, env.visits.get(visit.ID).Status)
			assert.Equal(t, 1, env.visits.updates)
			assert.Len(t, env.notifier.ofType(model.NotificationVisitExpired), 1)

			// Повторная проверка ничего не меняет
			again, err := env.validator.ValidateAccess(ctx, visit.AccessCredential, CredentialQR)
			require.NoError(t, err)
			assert.False(t, again.Valid)
			assert.Equal(t, tt.want, again.Visit.Status)
			assert.Equal(t, 1, env.visits.updates)
			assert.Len(t, env.notifier.ofType(model.NotificationVisitExpired), 1)
		})
	}
}

func TestValidateAccessByPlate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	now := env.clock.Now()

	visit, err := env.visitService.Create(ctx, CreateVisitParams{
		Type:        model.VisitTypeVehicular,
		VisitorName: "Juan",
		ValidFrom:   now.Add(-time.Minute),
		ValidUntil:  now.Add(time.Hour),
		HostID:      env.alice.ID,
		Plate:       strPtr("KJ-TR 44"),
	})
	require.NoError(t, err)

	decision, err := env.validator.ValidateAccess(ctx, "kjtr44", CredentialPlate)
	require.NoError(t, err)
	assert.True(t, decision.Valid)
	assert.Equal(t, visit.ID, decision.Visit.ID)

	missing, err := env.validator.ValidateAccess(ctx, "ZZZZ99", CredentialPlate)
	require.NoError(t, err)
	assert.False(t, missing.Valid)
	assert.Nil(t, missing.Visit)
	assert.Equal(t, msgVisitNotFound, missing.Message)
}

func TestValidateAccessInputErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.validator.ValidateAccess(ctx, "abc", CredentialKind("rfid"))
	assert.ErrorIs(t, err, ErrValidation)

	_, err = env.validator.ValidateAccess(ctx, "  ", CredentialQR)
	assert.ErrorIs(t, err, ErrValidation)
}
