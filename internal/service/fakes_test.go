package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Freeeeeet/visitor_gate/internal/events"
	"github.com/Freeeeeet/visitor_gate/internal/model"
	"github.com/Freeeeeet/visitor_gate/internal/repository/base"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var errSinkDown = errors.New("sink down")

// ============ Хранилища ============

type fakeVisitStore struct {
	mu       sync.Mutex
	visits   map[uuid.UUID]*model.Visit
	vehicles *fakeVehicles

	// conflicts сколько ближайших Update вернут конфликт версий
	conflicts int
	updates   int
	listErr   error
}

func newFakeVisitStore(vehicles *fakeVehicles) *fakeVisitStore {
	return &fakeVisitStore{visits: map[uuid.UUID]*model.Visit{}, vehicles: vehicles}
}

func cloneVisit(v *model.Visit) *model.Visit {
	c := *v
	return &c
}

func (f *fakeVisitStore) put(v *model.Visit) *model.Visit {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	if v.Version == 0 {
		v.Version = 1
	}
	if v.AccessCredential == "" {
		v.AccessCredential = strings.ToUpper(strings.ReplaceAll(v.ID.String(), "-", ""))[:24]
	}
	f.visits[v.ID] = cloneVisit(v)
	return v
}

func (f *fakeVisitStore) get(id uuid.UUID) *model.Visit {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.visits[id]; ok {
		return cloneVisit(v)
	}
	return nil
}

func (f *fakeVisitStore) Create(_ context.Context, v *model.Visit) error {
	f.put(v)
	return nil
}

func (f *fakeVisitStore) GetByID(_ context.Context, id uuid.UUID) (*model.Visit, error) {
	return f.get(id), nil
}

func (f *fakeVisitStore) GetByAccessCredential(_ context.Context, code string) (*model.Visit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.visits {
		if v.AccessCredential == code {
			return cloneVisit(v), nil
		}
	}
	return nil, nil
}

func (f *fakeVisitStore) FindAdmissibleByPlate(_ context.Context, plate string, now time.Time) (*model.Visit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.visits {
		if v.VehicleID == nil || !v.Status.IsAdmissible() || !v.InWindow(now) {
			continue
		}
		if vehicle := f.vehicles.byID(*v.VehicleID); vehicle != nil && vehicle.Plate == plate {
			return cloneVisit(v), nil
		}
	}
	return nil, nil
}

func (f *fakeVisitStore) CredentialExists(_ context.Context, code string) (bool, error) {
	v, _ := f.GetByAccessCredential(context.Background(), code)
	return v != nil, nil
}

func (f *fakeVisitStore) Update(_ context.Context, v *model.Visit) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.conflicts > 0 {
		f.conflicts--
		return base.ErrVersionConflict
	}
	stored, ok := f.visits[v.ID]
	if !ok || stored.Version != v.Version {
		return base.ErrVersionConflict
	}
	v.Version++
	f.updates++
	f.visits[v.ID] = cloneVisit(v)
	return nil
}

func (f *fakeVisitStore) ListExpiredCandidates(_ context.Context, now time.Time) ([]*model.Visit, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.filter(func(v *model.Visit) bool {
		switch v.Status {
		case model.VisitStatusActive, model.VisitStatusDenied, model.VisitStatusExpired, model.VisitStatusCancelled, model.VisitStatusCompleted:
			return false
		}
		return v.ValidUntil.Before(now)
	}), nil
}

func (f *fakeVisitStore) ListExpiringBetween(_ context.Context, from, to time.Time) ([]*model.Visit, error) {
	return f.filter(func(v *model.Visit) bool {
		if v.Status == model.VisitStatusActive || v.Status == model.VisitStatusExpired {
			return false
		}
		return v.ValidUntil.After(from) && !v.ValidUntil.After(to)
	}), nil
}

func (f *fakeVisitStore) filter(keep func(v *model.Visit) bool) []*model.Visit {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Visit
	for _, v := range f.visits {
		if keep(v) {
			out = append(out, cloneVisit(v))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ValidUntil.Before(out[j].ValidUntil) })
	return out
}

type fakeSessionStore struct {
	mu        sync.Mutex
	sessions  map[uuid.UUID]*model.ApprovalSession
	updateErr error
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: map[uuid.UUID]*model.ApprovalSession{}}
}

func cloneSession(s *model.ApprovalSession) *model.ApprovalSession {
	c := *s
	c.ResidentsNotified = append([]model.NotifiedResident(nil), s.ResidentsNotified...)
	c.ToolCalls = append([]model.ToolCall(nil), s.ToolCalls...)
	return &c
}

func (f *fakeSessionStore) Create(_ context.Context, s *model.ApprovalSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.Version = 1
	f.sessions[s.ID] = cloneSession(s)
	return nil
}

func (f *fakeSessionStore) GetByID(_ context.Context, id uuid.UUID) (*model.ApprovalSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[id]; ok {
		return cloneSession(s), nil
	}
	return nil, nil
}

func (f *fakeSessionStore) Update(_ context.Context, s *model.ApprovalSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	stored, ok := f.sessions[s.ID]
	if !ok || stored.Version != s.Version {
		return base.ErrVersionConflict
	}
	s.Version++
	f.sessions[s.ID] = cloneSession(s)
	return nil
}

func (f *fakeSessionStore) ListActiveStartedBefore(_ context.Context, cutoff time.Time) ([]*model.ApprovalSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.ApprovalSession
	for _, s := range f.sessions {
		if s.Status == model.SessionStatusActive && s.StartTime.Before(cutoff) {
			out = append(out, cloneSession(s))
		}
	}
	return out, nil
}

// ============ Справочники ============

type fakeUsers struct {
	users map[uuid.UUID]*model.User
}

func (f *fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	return f.users[id], nil
}

func (f *fakeUsers) GetByIDs(_ context.Context, ids []uuid.UUID) ([]*model.User, error) {
	var out []*model.User
	// Порядок как у БД: не совпадает с порядком запроса
	for i := len(ids) - 1; i >= 0; i-- {
		if u, ok := f.users[ids[i]]; ok && u.IsActive {
			out = append(out, u)
		}
	}
	return out, nil
}

type fakeFamilies struct {
	byUnit map[string]*model.Family
}

func (f *fakeFamilies) FindByDepartment(_ context.Context, unit string) (*model.Family, error) {
	key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.ToLower(unit), "depto")))
	return f.byUnit[key], nil
}

type fakeVehicles struct {
	mu       sync.Mutex
	vehicles map[uuid.UUID]*model.Vehicle
}

func newFakeVehicles() *fakeVehicles {
	return &fakeVehicles{vehicles: map[uuid.UUID]*model.Vehicle{}}
}

func (f *fakeVehicles) byID(id uuid.UUID) *model.Vehicle {
	return f.vehicles[id]
}

func (f *fakeVehicles) FindByPlate(_ context.Context, plate string) (*model.Vehicle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.vehicles {
		if v.Plate == plate {
			return v, nil
		}
	}
	return nil, nil
}

func (f *fakeVehicles) Create(_ context.Context, v *model.Vehicle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	v.ID = uuid.New()
	f.vehicles[v.ID] = v
	return nil
}

// ============ Каналы доставки ============

type fakeNotifier struct {
	mu   sync.Mutex
	sent []*model.Notification
	err  error
	// onNotify вызывается после доставки, вне блокировки
	onNotify func(ctx context.Context, n *model.Notification)
}

func (f *fakeNotifier) Notify(ctx context.Context, n *model.Notification) error {
	f.mu.Lock()
	if f.err != nil {
		f.mu.Unlock()
		return f.err
	}
	f.sent = append(f.sent, n)
	hook := f.onNotify
	f.mu.Unlock()

	if hook != nil {
		hook(ctx, n)
	}
	return nil
}

func (f *fakeNotifier) ofType(t model.NotificationType) []*model.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Notification
	for _, n := range f.sent {
		if n.Type == t {
			out = append(out, n)
		}
	}
	return out
}

type fakeNotificationStore struct {
	actioned []uuid.UUID
	expired  []uuid.UUID
	err      error
}

func (f *fakeNotificationStore) MarkActionTaken(_ context.Context, sessionID uuid.UUID) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.actioned = append(f.actioned, sessionID)
	return 1, nil
}

func (f *fakeNotificationStore) ExpireForSession(_ context.Context, sessionID uuid.UUID) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.expired = append(f.expired, sessionID)
	return 1, nil
}

type broadcastMsg struct {
	channel string
	payload interface{}
}

type fakeBroadcaster struct {
	mu   sync.Mutex
	msgs []broadcastMsg
	err  error
}

func (f *fakeBroadcaster) Broadcast(_ context.Context, channel string, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, broadcastMsg{channel: channel, payload: payload})
	return nil
}

type fakeGate struct {
	commands []events.GateCommand
	err      error
}

func (f *fakeGate) OpenGate(_ context.Context, cmd events.GateCommand) error {
	if f.err != nil {
		return f.err
	}
	f.commands = append(f.commands, cmd)
	return nil
}

type fakeSMS struct {
	mu     sync.Mutex
	phones []string
	err    error
}

func (f *fakeSMS) SendAccessCredential(ctx context.Context, phone string, _ *model.Visit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if f.err != nil {
		return f.err
	}
	f.phones = append(f.phones, phone)
	return nil
}

type fakeAgent struct{}

func (fakeAgent) Issue(sessionID uuid.UUID) (string, time.Time, error) {
	return "token-" + sessionID.String(), time.Date(2026, 3, 1, 12, 1, 0, 0, time.UTC), nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
}

func (p *recordingPublisher) Publish(_ context.Context, subject string, _ interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) count(subject string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.subjects {
		if s == subject {
			n++
		}
	}
	return n
}

// ============ Окружение ============

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	clock         *testClock
	visits        *fakeVisitStore
	sessions      *fakeSessionStore
	users         *fakeUsers
	families      *fakeFamilies
	vehicles      *fakeVehicles
	notifier      *fakeNotifier
	notifications *fakeNotificationStore
	broadcaster   *fakeBroadcaster
	gate          *fakeGate
	sms           *fakeSMS
	publisher     *recordingPublisher

	family *model.Family
	alice  *model.User
	bob    *model.User

	visitService *VisitService
	validator    *AccessValidator
	approvals    *ApprovalService
	sweep        *SweepService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	vehicles := newFakeVehicles()

	family := &model.Family{ID: uuid.New(), Name: "Pérez", Department: "101", IsActive: true}
	other := uuid.New()
	alice := &model.User{ID: uuid.New(), FirstName: "Alicia", LastName: "Pérez", Role: model.RoleResident, FamilyID: &family.ID, IsActive: true}
	bob := &model.User{ID: uuid.New(), FirstName: "Roberto", LastName: "Soto", Role: model.RoleResident, FamilyID: &other, IsActive: true}
	family.Members = []*model.User{alice, bob}

	env := &testEnv{
		clock:         clock,
		visits:        newFakeVisitStore(vehicles),
		sessions:      newFakeSessionStore(),
		users:         &fakeUsers{users: map[uuid.UUID]*model.User{alice.ID: alice, bob.ID: bob}},
		families:      &fakeFamilies{byUnit: map[string]*model.Family{"101": family}},
		vehicles:      vehicles,
		notifier:      &fakeNotifier{},
		notifications: &fakeNotificationStore{},
		broadcaster:   &fakeBroadcaster{},
		gate:          &fakeGate{},
		sms:           &fakeSMS{},
		publisher:     &recordingPublisher{},
		family:        family,
		alice:         alice,
		bob:           bob,
	}

	logger := zap.NewNop()

	env.visitService = NewVisitService(env.visits, env.users, env.vehicles, env.notifier, env.publisher, logger).
		WithClock(clock.Now)
	env.validator = NewAccessValidator(env.visitService, env.publisher, logger)
	env.approvals = NewApprovalService(ApprovalDeps{
		Sessions:      env.sessions,
		Visits:        env.visitService,
		Users:         env.users,
		Families:      env.families,
		Notifier:      env.notifier,
		Notifications: env.notifications,
		Broadcaster:   env.broadcaster,
		Gate:          env.gate,
		Credentials:   env.sms,
		Agent:         fakeAgent{},
		Events:        env.publisher,
	}, DefaultApprovalConfig(), logger).WithClock(clock.Now)
	env.sweep = NewSweepService(env.visits, env.visitService, env.approvals, env.notifier, logger)

	return env
}

// seedVisit кладёт визит хоста alice с окном [now-1h, now+1h]
func (e *testEnv) seedVisit(status model.VisitStatus, maxUses *int, used int) *model.Visit {
	now := e.clock.Now()
	return e.visits.put(&model.Visit{
		Type:        model.VisitTypePedestrian,
		Status:      status,
		VisitorName: "Juan Díaz",
		MaxUses:     maxUses,
		UsedCount:   used,
		ValidFrom:   now.Add(-time.Hour),
		ValidUntil:  now.Add(time.Hour),
		HostID:      e.alice.ID,
		FamilyID:    e.alice.FamilyID,
	})
}

func intPtr(i int) *int {
	return &i
}

func strPtr(s string) *string {
	return &s
}
