package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"qms/walkin-service/internal/models"
	"qms/walkin-service/internal/store"
	"qms/walkin-service/internal/store/sqlite"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	tickets []models.Ticket
}

func (n *recordingNotifier) TicketChanged(ctx context.Context, ticket models.Ticket) {
	n.tickets = append(n.tickets, ticket)
}

type fixture struct {
	engine   *Engine
	store    *sqlite.Store
	clock    *fakeClock
	notifier *recordingNotifier
	desk     models.Desk
	admin    models.Actor
	staff    models.Actor
	outsider models.Actor
	super    models.Actor
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	st, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	home, err := st.CreateLocation(ctx, store.CreateLocationInput{Name: "UBND Phường Bến Nghé", Active: true})
	require.NoError(t, err)
	away, err := st.CreateLocation(ctx, store.CreateLocationInput{Name: "UBND Phường Đa Kao", Active: true})
	require.NoError(t, err)
	desk, err := st.CreateDesk(ctx, store.CreateDeskInput{LocationID: home.LocationID, DeskNumber: "Bàn 7", DeskName: "Hộ tịch", Active: true})
	require.NoError(t, err)

	mkUser := func(name, role string, locationID *string) models.Actor {
		user, err := st.CreateUser(ctx, store.CreateUserInput{Username: name, Role: role, LocationID: locationID, Active: true, PasswordHash: "x"})
		require.NoError(t, err)
		return user.Actor()
	}
	homeID, awayID := home.LocationID, away.LocationID

	clock := &fakeClock{now: time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC)}
	notifier := &recordingNotifier{}
	engine := NewEngine(st, Options{
		Location: time.FixedZone("ICT", 7*3600),
		Now:      clock.Now,
		Logger:   zerolog.Nop(),
		Notifier: notifier,
	})
	return fixture{
		engine:   engine,
		store:    st,
		clock:    clock,
		notifier: notifier,
		desk:     desk,
		admin:    mkUser("admin", models.RoleAdmin, &homeID),
		staff:    mkUser("staff", models.RoleStaff, &homeID),
		outsider: mkUser("outsider", models.RoleAdmin, &awayID),
		super:    mkUser("root", models.RoleSuperAdmin, nil),
	}
}

func (f fixture) add(t *testing.T, name string, priority bool) models.Ticket {
	t.Helper()
	ticket, err := f.engine.AddTicket(context.Background(), f.admin, f.desk.DeskID, AddTicketInput{
		CustomerName: name,
		ServiceType:  "Khai sinh",
		IsPriority:   priority,
	})
	require.NoError(t, err)
	return ticket
}

func TestAddTicketNumbering(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 4; i++ {
		f.add(t, "Khách", false)
		f.clock.Advance(time.Minute)
	}
	fifth := f.add(t, "Khách 5", false)

	assert.Equal(t, "7005", fifth.QueueNumber)
	assert.Equal(t, models.StatusWaiting, fifth.Status)
	assert.Equal(t, "2026-03-02", fifth.ServiceDay)
	assert.True(t, fifth.CreatedAt.Equal(f.clock.Now()))
	assert.Len(t, f.notifier.tickets, 5)
}

func TestAddTicketValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.AddTicket(ctx, f.admin, f.desk.DeskID, AddTicketInput{CustomerName: "  ", ServiceType: "x"})
	assert.ErrorIs(t, err, store.ErrInvalidInput)

	_, err = f.engine.AddTicket(ctx, f.staff, f.desk.DeskID, AddTicketInput{CustomerName: "A", ServiceType: "x"})
	assert.ErrorIs(t, err, store.ErrAccessDenied)

	_, err = f.engine.AddTicket(ctx, f.outsider, f.desk.DeskID, AddTicketInput{CustomerName: "A", ServiceType: "x"})
	assert.ErrorIs(t, err, store.ErrAccessDenied)

	_, err = f.engine.AddTicket(ctx, f.admin, "missing", AddTicketInput{CustomerName: "A", ServiceType: "x"})
	assert.ErrorIs(t, err, store.ErrDeskNotFound)

	ticket, err := f.engine.AddTicket(ctx, f.super, f.desk.DeskID, AddTicketInput{CustomerName: "A", ServiceType: "x"})
	require.NoError(t, err)
	assert.Equal(t, "7001", ticket.QueueNumber)
}

func TestWaitingLinePriorityOrder(t *testing.T) {
	f := newFixture(t)
	t1 := f.add(t, "T1", false)
	f.clock.Advance(time.Minute)
	t2 := f.add(t, "T2", true)
	f.clock.Advance(time.Minute)
	t3 := f.add(t, "T3", true)

	line, err := f.engine.WaitingLine(context.Background(), f.staff, f.desk.DeskID)
	require.NoError(t, err)
	require.Len(t, line, 3)
	assert.Equal(t, []string{t2.TicketID, t3.TicketID, t1.TicketID}, []string{line[0].TicketID, line[1].TicketID, line[2].TicketID})

	_, err = f.engine.WaitingLine(context.Background(), f.outsider, f.desk.DeskID)
	assert.ErrorIs(t, err, store.ErrAccessDenied)
}

func TestLifecycleTimestamps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.add(t, "Lan", false)
	created := f.clock.Now()

	f.clock.Advance(3 * time.Minute)
	called, err := f.engine.Call(ctx, f.admin, ticket.TicketID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, called.Status)
	require.NotNil(t, called.CalledAt)
	assert.Nil(t, called.StartedAt)

	f.clock.Advance(9 * time.Minute)
	serving, err := f.engine.StartServing(ctx, f.admin, ticket.TicketID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, serving.Status)
	require.NotNil(t, serving.HandledBy)
	assert.Equal(t, f.admin.UserID, *serving.HandledBy)
	assert.Equal(t, 12, serving.WaitingMinutes(f.clock.Now().Add(time.Hour)))

	f.clock.Advance(20 * time.Minute)
	done, err := f.engine.Complete(ctx, f.admin, ticket.TicketID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)
	assert.Equal(t, 20, done.ServiceMinutes())
	assert.True(t, done.CreatedAt.Equal(created))

	f.clock.Advance(time.Minute)
	_, err = f.engine.Complete(ctx, f.admin, ticket.TicketID)
	assert.ErrorIs(t, err, store.ErrInvalidState)
	_, err = f.engine.Cancel(ctx, f.admin, ticket.TicketID)
	assert.ErrorIs(t, err, store.ErrInvalidState)

	after, err := f.engine.GetTicket(ctx, f.staff, ticket.TicketID)
	require.NoError(t, err)
	assert.True(t, after.CompletedAt.Equal(*done.CompletedAt))
	assert.Equal(t, models.StatusCompleted, after.Status)

	history, err := f.engine.TicketHistory(ctx, f.staff, ticket.TicketID)
	require.NoError(t, err)
	assert.Len(t, history, 4)
}

func TestCallTicketComposite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.add(t, "Minh", false)

	f.clock.Advance(5 * time.Minute)
	serving, err := f.engine.CallTicket(ctx, f.admin, ticket.TicketID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, serving.Status)
	require.NotNil(t, serving.CalledAt)
	require.NotNil(t, serving.StartedAt)
	assert.True(t, serving.CalledAt.Equal(*serving.StartedAt))

	_, err = f.engine.CallTicket(ctx, f.admin, ticket.TicketID)
	assert.ErrorIs(t, err, store.ErrInvalidState)

	cancelled, err := f.engine.Cancel(ctx, f.admin, ticket.TicketID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)
	assert.Nil(t, cancelled.CompletedAt)
	assert.Equal(t, 0, cancelled.ServiceMinutes())
}

func TestSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.add(t, "A", false)
	f.add(t, "B", false)
	c := f.add(t, "C", true)

	_, err := f.engine.CallTicket(ctx, f.admin, c.TicketID)
	require.NoError(t, err)
	_, err = f.engine.Cancel(ctx, f.admin, a.TicketID)
	require.NoError(t, err)

	snapshot, err := f.engine.Snapshot(ctx, f.staff, f.desk.DeskID)
	require.NoError(t, err)
	assert.Equal(t, 1, snapshot.Waiting)
	assert.Equal(t, 1, snapshot.InProgress)
	assert.Equal(t, 3, snapshot.TodayTotal)
	require.NotNil(t, snapshot.CurrentServing)
	assert.Equal(t, c.TicketID, snapshot.CurrentServing.TicketID)

	// next local day starts an empty line
	f.clock.Advance(24 * time.Hour)
	snapshot, err = f.engine.Snapshot(ctx, f.staff, f.desk.DeskID)
	require.NoError(t, err)
	assert.Equal(t, 0, snapshot.TodayTotal)
	assert.Nil(t, snapshot.CurrentServing)
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) GetDesk(ctx context.Context, deskID string) (models.Desk, error) {
	args := m.Called(ctx, deskID)
	return args.Get(0).(models.Desk), args.Error(1)
}

func (m *mockStore) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error) {
	args := m.Called(ctx, input)
	return args.Get(0).(models.Ticket), args.Error(1)
}

func (m *mockStore) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	args := m.Called(ctx, ticketID)
	return args.Get(0).(models.Ticket), args.Error(1)
}

func (m *mockStore) ListTickets(ctx context.Context, filter store.TicketFilter) ([]models.Ticket, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]models.Ticket), args.Error(1)
}

func (m *mockStore) CountTickets(ctx context.Context, filter store.TicketFilter) (store.StatusCounts, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).(store.StatusCounts), args.Error(1)
}

func (m *mockStore) TransitionTicket(ctx context.Context, input store.TransitionInput) (models.Ticket, error) {
	args := m.Called(ctx, input)
	return args.Get(0).(models.Ticket), args.Error(1)
}

func (m *mockStore) ListTicketEvents(ctx context.Context, ticketID string) ([]store.TicketEvent, error) {
	args := m.Called(ctx, ticketID)
	return args.Get(0).([]store.TicketEvent), args.Error(1)
}

func TestDeniedActionsNeverWrite(t *testing.T) {
	st := &mockStore{}
	ticket := models.Ticket{TicketID: "t1", LocationID: "L1", Status: models.StatusWaiting}
	st.On("GetTicket", mock.Anything, "t1").Return(ticket, nil)
	st.On("GetDesk", mock.Anything, "d1").Return(models.Desk{DeskID: "d1", LocationID: "L1", Active: true}, nil)

	engine := NewEngine(st, Options{Logger: zerolog.Nop()})
	ctx := context.Background()
	outsider := models.Actor{UserID: "u2", Role: models.RoleAdmin, LocationID: "L2"}
	staff := models.Actor{UserID: "u3", Role: models.RoleStaff, LocationID: "L1"}

	_, err := engine.Complete(ctx, outsider, "t1")
	assert.ErrorIs(t, err, store.ErrAccessDenied)
	_, err = engine.Cancel(ctx, staff, "t1")
	assert.ErrorIs(t, err, store.ErrAccessDenied)
	_, err = engine.AddTicket(ctx, outsider, "d1", AddTicketInput{CustomerName: "A", ServiceType: "B"})
	assert.ErrorIs(t, err, store.ErrAccessDenied)

	st.AssertNotCalled(t, "TransitionTicket", mock.Anything, mock.Anything)
	st.AssertNotCalled(t, "CreateTicket", mock.Anything, mock.Anything)
}

func TestInvalidStateShortCircuits(t *testing.T) {
	st := &mockStore{}
	st.On("GetTicket", mock.Anything, "t1").Return(models.Ticket{TicketID: "t1", LocationID: "L1", Status: models.StatusCancelled}, nil)

	engine := NewEngine(st, Options{Logger: zerolog.Nop()})
	admin := models.Actor{UserID: "u1", Role: models.RoleAdmin, LocationID: "L1"}

	for _, op := range []func(context.Context, models.Actor, string) (models.Ticket, error){
		engine.Call, engine.StartServing, engine.CallTicket, engine.Complete, engine.Cancel,
	} {
		_, err := op(context.Background(), admin, "t1")
		assert.ErrorIs(t, err, store.ErrInvalidState)
	}
	st.AssertNotCalled(t, "TransitionTicket", mock.Anything, mock.Anything)
}

func TestTicketHistoryDetectsStateDrift(t *testing.T) {
	created := time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC)
	waiting := models.Ticket{TicketID: "t1", QueueNumber: "7001", DeskID: "d1", LocationID: "L1", Status: models.StatusWaiting, CreatedAt: created}
	payload, err := store.EventPayload(waiting)
	require.NoError(t, err)
	events := []store.TicketEvent{{
		TicketID:  "t1",
		TicketSeq: 1,
		Type:      store.EventTicketCreated,
		Payload:   payload,
		CreatedAt: created,
		Hash:      store.ComputeTicketEventHash("", "t1", store.EventTicketCreated, payload, created, 1),
	}}

	completedAt := created.Add(time.Hour)
	drifted := waiting
	drifted.Status = models.StatusCompleted
	drifted.CompletedAt = &completedAt

	st := &mockStore{}
	st.On("GetTicket", mock.Anything, "t1").Return(drifted, nil).Once()
	st.On("GetTicket", mock.Anything, "t1").Return(waiting, nil).Once()
	st.On("ListTicketEvents", mock.Anything, "t1").Return(events, nil)

	engine := NewEngine(st, Options{Logger: zerolog.Nop()})
	staff := models.Actor{UserID: "u3", Role: models.RoleStaff, LocationID: "L1"}

	_, err = engine.TicketHistory(context.Background(), staff, "t1")
	assert.ErrorIs(t, err, store.ErrEventChainBroken)

	history, err := engine.TicketHistory(context.Background(), staff, "t1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}
