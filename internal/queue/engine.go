// Package queue runs the per-desk walk-in line: ticket intake, the
// waiting -> in_progress -> completed/cancelled lifecycle, and desk snapshots.
//
// Every operation takes the acting user explicitly and checks access before
// touching state. State changes are compare-and-swap in the store, so two
// staff members acting on the same ticket cannot both succeed.
package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"qms/walkin-service/internal/access"
	"qms/walkin-service/internal/metrics"
	"qms/walkin-service/internal/models"
	"qms/walkin-service/internal/store"

	"github.com/rs/zerolog"
)

type Store interface {
	GetDesk(ctx context.Context, deskID string) (models.Desk, error)
	store.TicketStore
}

// ChangeNotifier is told about every ticket that was created or changed state.
type ChangeNotifier interface {
	TicketChanged(ctx context.Context, ticket models.Ticket)
}

type Options struct {
	Location *time.Location
	Now      func() time.Time
	Logger   zerolog.Logger
	Notifier ChangeNotifier
}

type Engine struct {
	store    Store
	loc      *time.Location
	now      func() time.Time
	log      zerolog.Logger
	notifier ChangeNotifier
}

type AddTicketInput struct {
	CustomerName  string
	CustomerPhone string
	ServiceType   string
	Notes         string
	IsPriority    bool
}

type DeskSnapshot struct {
	Desk           models.Desk    `json:"desk"`
	Waiting        int            `json:"waiting"`
	InProgress     int            `json:"in_progress"`
	Completed      int            `json:"completed"`
	TodayTotal     int            `json:"today_total"`
	CurrentServing *models.Ticket `json:"current_serving,omitempty"`
}

func NewEngine(st Store, options Options) *Engine {
	loc := options.Location
	if loc == nil {
		loc = time.UTC
	}
	now := options.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		store:    st,
		loc:      loc,
		now:      now,
		log:      options.Logger.With().Str("component", "queue").Logger(),
		notifier: options.Notifier,
	}
}

// SetNotifier replaces the change notifier; used when the notifier is built after the engine.
func (e *Engine) SetNotifier(notifier ChangeNotifier) {
	e.notifier = notifier
}

// Today is the current service day in the configured time zone.
func (e *Engine) Today() string {
	return models.ServiceDay(e.now(), e.loc)
}

func (e *Engine) Now() time.Time {
	return e.now()
}

// Location is the time zone service days are counted in.
func (e *Engine) Location() *time.Location {
	return e.loc
}

func (e *Engine) AddTicket(ctx context.Context, actor models.Actor, deskID string, input AddTicketInput) (models.Ticket, error) {
	if err := access.AuthorizeMutation(actor); err != nil {
		return models.Ticket{}, err
	}

	input.CustomerName = strings.TrimSpace(input.CustomerName)
	input.CustomerPhone = strings.TrimSpace(input.CustomerPhone)
	input.ServiceType = strings.TrimSpace(input.ServiceType)
	input.Notes = strings.TrimSpace(input.Notes)
	if input.CustomerName == "" || input.ServiceType == "" {
		return models.Ticket{}, fmt.Errorf("%w: customer_name and service_type are required", store.ErrInvalidInput)
	}

	desk, err := e.store.GetDesk(ctx, deskID)
	if err != nil {
		return models.Ticket{}, err
	}
	if err := access.AuthorizeDesk(actor, desk); err != nil {
		return models.Ticket{}, err
	}
	if !desk.Active {
		return models.Ticket{}, store.ErrDeskInactive
	}

	now := e.now().UTC()
	ticket, err := e.store.CreateTicket(ctx, store.CreateTicketInput{
		DeskID:        desk.DeskID,
		CustomerName:  input.CustomerName,
		CustomerPhone: input.CustomerPhone,
		ServiceType:   input.ServiceType,
		Notes:         input.Notes,
		IsPriority:    input.IsPriority,
		ServiceDay:    models.ServiceDay(now, e.loc),
		ActorID:       actor.UserID,
		CreatedAt:     now,
	})
	if err != nil {
		return models.Ticket{}, err
	}

	metrics.IncTicketCreated(ticket.IsPriority)
	e.log.Info().
		Str("ticket_id", ticket.TicketID).
		Str("queue_number", ticket.QueueNumber).
		Str("desk_id", ticket.DeskID).
		Bool("priority", ticket.IsPriority).
		Str("actor", actor.Username).
		Msg("ticket created")
	e.notify(ctx, ticket)
	return ticket, nil
}

// Call announces a waiting ticket. The ticket stays in the line.
func (e *Engine) Call(ctx context.Context, actor models.Actor, ticketID string) (models.Ticket, error) {
	return e.transition(ctx, actor, ticketID, store.ActionCall)
}

func (e *Engine) StartServing(ctx context.Context, actor models.Actor, ticketID string) (models.Ticket, error) {
	return e.transition(ctx, actor, ticketID, store.ActionStartServing)
}

// CallTicket calls a waiting ticket and starts serving it in one step.
func (e *Engine) CallTicket(ctx context.Context, actor models.Actor, ticketID string) (models.Ticket, error) {
	return e.transition(ctx, actor, ticketID, store.ActionCallTicket)
}

func (e *Engine) Complete(ctx context.Context, actor models.Actor, ticketID string) (models.Ticket, error) {
	return e.transition(ctx, actor, ticketID, store.ActionComplete)
}

func (e *Engine) Cancel(ctx context.Context, actor models.Actor, ticketID string) (models.Ticket, error) {
	return e.transition(ctx, actor, ticketID, store.ActionCancel)
}

func (e *Engine) transition(ctx context.Context, actor models.Actor, ticketID, action string) (models.Ticket, error) {
	if err := access.AuthorizeMutation(actor); err != nil {
		metrics.IncTransition(action, "denied")
		return models.Ticket{}, err
	}
	current, err := e.store.GetTicket(ctx, ticketID)
	if err != nil {
		return models.Ticket{}, err
	}
	if err := access.AuthorizeTicket(actor, current); err != nil {
		metrics.IncTransition(action, "denied")
		return models.Ticket{}, err
	}
	if !store.ValidTransition(action, current.Status) {
		metrics.IncTransition(action, "invalid_state")
		return models.Ticket{}, store.ErrInvalidState
	}

	ticket, err := e.store.TransitionTicket(ctx, store.TransitionInput{
		TicketID:   ticketID,
		Action:     action,
		ActorID:    actor.UserID,
		OccurredAt: e.now().UTC(),
	})
	if err != nil {
		metrics.IncTransition(action, "error")
		return models.Ticket{}, err
	}

	metrics.IncTransition(action, "ok")
	e.log.Info().
		Str("ticket_id", ticket.TicketID).
		Str("queue_number", ticket.QueueNumber).
		Str("action", action).
		Str("from", current.Status).
		Str("to", ticket.Status).
		Str("actor", actor.Username).
		Msg("ticket transition")
	e.notify(ctx, ticket)
	return ticket, nil
}

func (e *Engine) GetTicket(ctx context.Context, actor models.Actor, ticketID string) (models.Ticket, error) {
	ticket, err := e.store.GetTicket(ctx, ticketID)
	if err != nil {
		return models.Ticket{}, err
	}
	if err := access.AuthorizeTicket(actor, ticket); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

// TicketHistory returns the ticket's recorded events after checking the hash chain.
func (e *Engine) TicketHistory(ctx context.Context, actor models.Actor, ticketID string) ([]store.TicketEvent, error) {
	ticket, err := e.GetTicket(ctx, actor, ticketID)
	if err != nil {
		return nil, err
	}
	events, err := e.store.ListTicketEvents(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if err := store.VerifyTicketEvents(events); err != nil {
		e.log.Error().Err(err).Str("ticket_id", ticketID).Msg("ticket history verification failed")
		return nil, err
	}
	if err := store.ReconcileTicket(events, ticket); err != nil {
		e.log.Error().Err(err).Str("ticket_id", ticketID).Msg("ticket history does not match stored ticket")
		return nil, err
	}
	return events, nil
}

// WaitingLine lists today's waiting tickets for a desk: priority first, then arrival order.
func (e *Engine) WaitingLine(ctx context.Context, actor models.Actor, deskID string) ([]models.Ticket, error) {
	desk, err := e.authorizedDesk(ctx, actor, deskID)
	if err != nil {
		return nil, err
	}
	return e.store.ListTickets(ctx, store.TicketFilter{
		DeskID:     desk.DeskID,
		ServiceDay: e.Today(),
		Statuses:   []string{models.StatusWaiting},
		Order:      store.OrderQueue,
	})
}

func (e *Engine) Snapshot(ctx context.Context, actor models.Actor, deskID string) (DeskSnapshot, error) {
	desk, err := e.authorizedDesk(ctx, actor, deskID)
	if err != nil {
		return DeskSnapshot{}, err
	}
	return e.SnapshotForDesk(ctx, desk)
}

// SnapshotForDesk builds today's snapshot for a desk the caller already authorized.
func (e *Engine) SnapshotForDesk(ctx context.Context, desk models.Desk) (DeskSnapshot, error) {
	day := e.Today()
	counts, err := e.store.CountTickets(ctx, store.TicketFilter{DeskID: desk.DeskID, ServiceDay: day})
	if err != nil {
		return DeskSnapshot{}, err
	}
	snapshot := DeskSnapshot{
		Desk:       desk,
		Waiting:    counts.Waiting,
		InProgress: counts.InProgress,
		Completed:  counts.Completed,
		TodayTotal: counts.Total,
	}

	serving, err := e.store.ListTickets(ctx, store.TicketFilter{
		DeskID:     desk.DeskID,
		ServiceDay: day,
		Statuses:   []string{models.StatusInProgress},
		Limit:      1,
	})
	if err != nil {
		return DeskSnapshot{}, err
	}
	if len(serving) > 0 {
		snapshot.CurrentServing = &serving[0]
	}
	return snapshot, nil
}

// AuthorizedDesk loads a desk and checks the actor may see it.
func (e *Engine) AuthorizedDesk(ctx context.Context, actor models.Actor, deskID string) (models.Desk, error) {
	return e.authorizedDesk(ctx, actor, deskID)
}

func (e *Engine) authorizedDesk(ctx context.Context, actor models.Actor, deskID string) (models.Desk, error) {
	desk, err := e.store.GetDesk(ctx, deskID)
	if err != nil {
		return models.Desk{}, err
	}
	if err := access.AuthorizeDesk(actor, desk); err != nil {
		return models.Desk{}, err
	}
	return desk, nil
}

func (e *Engine) notify(ctx context.Context, ticket models.Ticket) {
	if e.notifier != nil {
		e.notifier.TicketChanged(ctx, ticket)
	}
}
