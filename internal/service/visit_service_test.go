package service

import (
	"context"
	"testing"
	"time"

	"github.com/Freeeeeet/visitor_gate/internal/events"
	"github.com/Freeeeeet/visitor_gate/internal/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateVisit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	now := env.clock.Now()

	visit, err := env.visitService.Create(ctx, CreateVisitParams{
		Type:        model.VisitTypeVehicular,
		VisitorName: "  Juan Díaz ",
		ValidFrom:   now,
		ValidUntil:  now.Add(4 * time.Hour),
		HostID:      env.alice.ID,
		MaxUses:     intPtr(2),
		Plate:       strPtr("ab-cd 12"),
	})
	require.NoError(t, err)

	assert.Equal(t, model.VisitStatusPending, visit.Status)
	assert.Equal(t, "Juan Díaz", visit.VisitorName)
	assert.Len(t, visit.AccessCredential, 24)
	assert.Equal(t, 0, visit.UsedCount)
	assert.Nil(t, visit.EntryTime)
	assert.Equal(t, env.alice.FamilyID, visit.FamilyID)
	require.NotNil(t, visit.VehicleID)

	vehicle, _ := env.vehicles.FindByPlate(ctx, "ABCD12")
	require.NotNil(t, vehicle)
	assert.Equal(t, vehicle.ID, *visit.VehicleID)
	assert.Equal(t, 1, env.publisher.count(events.VisitCreated))

	// Машина переиспользуется по номеру
	again, err := env.visitService.Create(ctx, CreateVisitParams{
		Type:        model.VisitTypeVehicular,
		VisitorName: "Juan Díaz",
		ValidFrom:   now,
		ValidUntil:  now.Add(time.Hour),
		HostID:      env.alice.ID,
		Plate:       strPtr("ABCD12"),
	})
	require.NoError(t, err)
	assert.Equal(t, *visit.VehicleID, *again.VehicleID)
	assert.NotEqual(t, visit.AccessCredential, again.AccessCredential)
}

func TestCreateVisitValidation(t *testing.T) {
	env := newTestEnv(t)
	now := env.clock.Now()
	cancelled := model.VisitStatusCancelled
	bogus := model.VisitStatus("ready_for_reentry")

	valid := func() CreateVisitParams {
		return CreateVisitParams{
			Type:        model.VisitTypePedestrian,
			VisitorName: "Juan",
			ValidFrom:   now,
			ValidUntil:  now.Add(time.Hour),
			HostID:      env.alice.ID,
		}
	}

	tests := []struct {
		name    string
		mutate  func(p *CreateVisitParams)
		wantErr error
	}{
		{"bad type", func(p *CreateVisitParams) { p.Type = "bike" }, ErrValidation},
		{"empty name", func(p *CreateVisitParams) { p.VisitorName = " " }, ErrValidation},
		{"inverted window", func(p *CreateVisitParams) { p.ValidUntil = p.ValidFrom }, ErrValidation},
		{"zero max uses", func(p *CreateVisitParams) { p.MaxUses = intPtr(0) }, ErrValidation},
		{"vehicular without plate", func(p *CreateVisitParams) { p.Type = model.VisitTypeVehicular }, ErrValidation},
		{"unknown status", func(p *CreateVisitParams) { p.Status = &bogus }, ErrValidation},
		{"unknown host", func(p *CreateVisitParams) { p.HostID = uuid.New() }, ErrNotFound},
		{"explicit status", func(p *CreateVisitParams) { p.Status = &cancelled }, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid()
			tt.mutate(&p)
			_, err := env.visitService.Create(context.Background(), p)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSingleUseVisitCompletesOnCheckOut(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	visit := env.seedVisit(model.VisitStatusPending, intPtr(1), 0)

	_, err := env.visitService.CheckIn(ctx, visit.ID)
	require.NoError(t, err)

	out, err := env.visitService.CheckOut(ctx, visit.ID)
	require.NoError(t, err)
	assert.Equal(t, model.VisitStatusCompleted, out.Status)
	assert.Equal(t, 1, out.UsedCount)
	assert.NotNil(t, out.ExitTime)

	_, err = env.visitService.CheckIn(ctx, visit.ID)
	assert.ErrorIs(t, err, ErrStateConflict)
}

func TestMultiUseVisitReentry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	visit := env.seedVisit(model.VisitStatusPending, intPtr(3), 0)

	_, err := env.visitService.CheckIn(ctx, visit.ID)
	require.NoError(t, err)

	out, err := env.visitService.CheckOut(ctx, visit.ID)
	require.NoError(t, err)
	assert.Equal(t, model.VisitStatusReady, out.Status)
	assert.Equal(t, 1, out.UsedCount)

	in, err := env.visitService.CheckIn(ctx, visit.ID)
	require.NoError(t, err)
	assert.Equal(t, model.VisitStatusActive, in.Status)
	assert.Equal(t, 2, in.UsedCount)
	assert.Nil(t, in.ExitTime)

	checkIns := env.notifier.ofType(model.NotificationVisitCheckIn)
	require.Len(t, checkIns, 2)
	assert.Contains(t, checkIns[1].Message, "uso 2 de 3")
	assert.Equal(t, env.alice.ID, checkIns[1].UserID)

	checkOuts := env.notifier.ofType(model.NotificationVisitCheckOut)
	require.Len(t, checkOuts, 1)
	assert.Contains(t, checkOuts[0].Message, "puede volver a ingresar")
}

func TestCheckInIncrementsExactlyOnceOrConflicts(t *testing.T) {
	tests := []struct {
		name    string
		status  model.VisitStatus
		maxUses *int
		used    int
		ok      bool
	}{
		{"pending", model.VisitStatusPending, intPtr(1), 0, true},
		{"ready", model.VisitStatusReady, intPtr(2), 1, true},
		{"ready exhausted", model.VisitStatusReady, intPtr(1), 1, false},
		{"active", model.VisitStatusActive, nil, 1, false},
		{"cancelled", model.VisitStatusCancelled, nil, 0, false},
		{"expired", model.VisitStatusExpired, nil, 0, false},
		{"denied", model.VisitStatusDenied, intPtr(1), 0, false},
		{"completed", model.VisitStatusCompleted, intPtr(1), 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			visit := env.seedVisit(tt.status, tt.maxUses, tt.used)

			got, err := env.visitService.CheckIn(context.Background(), visit.ID)
			stored := env.visits.get(visit.ID)
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, tt.used+1, got.UsedCount)
				assert.Equal(t, tt.used+1, stored.UsedCount)
				require.NotNil(t, stored.EntryTime)
				assert.Equal(t, env.clock.Now(), *stored.EntryTime)
			} else {
				assert.ErrorIs(t, err, ErrStateConflict)
				assert.Equal(t, tt.used, stored.UsedCount)
			}
		})
	}
}

func TestCheckInOutsideWindow(t *testing.T) {
	env := newTestEnv(t)
	visit := env.seedVisit(model.VisitStatusPending, nil, 0)

	env.clock.Advance(2 * time.Hour)
	_, err := env.visitService.CheckIn(context.Background(), visit.ID)
	assert.ErrorIs(t, err, ErrStateConflict)
	assert.ErrorIs(t, err, model.ErrOutsideWindow)
}

func TestCheckOutRequiresActive(t *testing.T) {
	env := newTestEnv(t)
	visit := env.seedVisit(model.VisitStatusPending, nil, 0)

	_, err := env.visitService.CheckOut(context.Background(), visit.ID)
	assert.ErrorIs(t, err, ErrStateConflict)
}

func TestCancel(t *testing.T) {
	tests := []struct {
		name   string
		status model.VisitStatus
		used   int
		ok     bool
	}{
		{"pending unused", model.VisitStatusPending, 0, true},
		{"expired unused", model.VisitStatusExpired, 0, true},
		{"ready used", model.VisitStatusReady, 1, false},
		{"active used", model.VisitStatusActive, 1, false},
		{"completed", model.VisitStatusCompleted, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			visit := env.seedVisit(tt.status, nil, tt.used)

			_, err := env.visitService.Cancel(context.Background(), visit.ID)
			stored := env.visits.get(visit.ID)
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, model.VisitStatusCancelled, stored.Status)
				assert.Equal(t, 0, stored.UsedCount)
			} else {
				assert.ErrorIs(t, err, ErrStateConflict)
				assert.Equal(t, tt.status, stored.Status)
			}
		})
	}
}

func TestUpdateStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	visit := env.seedVisit(model.VisitStatusPending, intPtr(1), 0)
	_, err := env.visitService.UpdateStatus(ctx, visit.ID, "READY_FOR_REENTRY")
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, model.VisitStatusPending, env.visits.get(visit.ID).Status)

	denied, err := env.visitService.UpdateStatus(ctx, visit.ID, "denied")
	require.NoError(t, err)
	assert.Equal(t, model.VisitStatusDenied, denied.Status)

	// denied идёт через таблицу: активный визит отклонить нельзя
	active := env.seedVisit(model.VisitStatusActive, intPtr(1), 1)
	_, err = env.visitService.UpdateStatus(ctx, active.ID, "denied")
	assert.ErrorIs(t, err, ErrStateConflict)

	// Прочие статусы выставляются как есть
	overridden, err := env.visitService.UpdateStatus(ctx, active.ID, "Completed")
	require.NoError(t, err)
	assert.Equal(t, model.VisitStatusCompleted, overridden.Status)
}

func TestUpdateRederivesFamilyFromHost(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	visit := env.seedVisit(model.VisitStatusPending, nil, 0)

	updated, err := env.visitService.Update(ctx, visit.ID, VisitPatch{
		HostID: &env.bob.ID,
		Reason: strPtr("entrega"),
		Plate:  strPtr("xy 9988"),
	})
	require.NoError(t, err)

	assert.Equal(t, env.bob.ID, updated.HostID)
	assert.Equal(t, env.bob.FamilyID, updated.FamilyID)
	assert.Equal(t, "entrega", *updated.Reason)
	assert.Equal(t, model.VisitTypeVehicular, updated.Type)
	require.NotNil(t, updated.Vehicle)
	assert.Equal(t, "XY9988", updated.Vehicle.Plate)
	assert.Equal(t, 1, env.publisher.count(events.VisitHostChanged))

	stored := env.visits.get(visit.ID)
	assert.Equal(t, env.bob.FamilyID, stored.FamilyID)
}

func TestUpdateValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	visit := env.seedVisit(model.VisitStatusReady, intPtr(3), 2)

	_, err := env.visitService.Update(ctx, visit.ID, VisitPatch{MaxUses: intPtr(1)})
	assert.ErrorIs(t, err, ErrValidation)

	past := visit.ValidFrom.Add(-time.Minute)
	_, err = env.visitService.Update(ctx, visit.ID, VisitPatch{ValidUntil: &past})
	assert.ErrorIs(t, err, ErrValidation)

	unknown := uuid.New()
	_, err = env.visitService.Update(ctx, visit.ID, VisitPatch{HostID: &unknown})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = env.visitService.Update(ctx, uuid.New(), VisitPatch{Reason: strPtr("x")})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTransitionRetriesOnVersionConflict(t *testing.T) {
	env := newTestEnv(t)
	visit := env.seedVisit(model.VisitStatusPending, intPtr(1), 0)

	env.visits.conflicts = 2
	got, err := env.visitService.CheckIn(context.Background(), visit.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.UsedCount)
	assert.Equal(t, 1, env.visits.updates)

	env.visits.conflicts = maxWriteAttempts
	_, err = env.visitService.CheckOut(context.Background(), visit.ID)
	assert.ErrorIs(t, err, ErrStateConflict)
	assert.Equal(t, model.VisitStatusActive, env.visits.get(visit.ID).Status)
}

func TestNotifierFailureDoesNotRollBackTransition(t *testing.T) {
	env := newTestEnv(t)
	env.notifier.err = errSinkDown
	visit := env.seedVisit(model.VisitStatusPending, nil, 0)

	got, err := env.visitService.CheckIn(context.Background(), visit.ID)
	require.NoError(t, err)
	assert.Equal(t, model.VisitStatusActive, got.Status)
	assert.Equal(t, model.VisitStatusActive, env.visits.get(visit.ID).Status)
}

func TestFindByPlate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	now := env.clock.Now()

	visit, err := env.visitService.Create(ctx, CreateVisitParams{
		Type:        model.VisitTypeVehicular,
		VisitorName: "Juan",
		ValidFrom:   now.Add(-time.Minute),
		ValidUntil:  now.Add(time.Hour),
		HostID:      env.alice.ID,
		Plate:       strPtr("AB-CD-12"),
	})
	require.NoError(t, err)

	found, err := env.visitService.FindByPlate(ctx, "ab cd 12")
	require.NoError(t, err)
	assert.Equal(t, visit.ID, found.ID)

	_, err = env.visitService.FindByPlate(ctx, "ZZ0000")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = env.visitService.FindByPlate(ctx, " - ")
	assert.ErrorIs(t, err, ErrValidation)
}
