package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"qms/walkin-service/internal/models"
	"qms/walkin-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ticketColumns = `ticket_id, desk_id, location_id, queue_number, sequence, service_day, customer_name, customer_phone,
	service_type, notes, is_priority, status, handled_by, created_at, called_at, started_at, completed_at`

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// isUUID reports whether id can be bound to a uuid column. Anything else
// cannot match a row and would only surface as a cast error.
func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var deskNumber, locationID string
	var deskActive, locationActive bool
	row := tx.QueryRow(ctx, `
		SELECT d.desk_number, d.active, d.location_id, l.active
		FROM desks d
		JOIN locations l ON l.location_id = d.location_id
		WHERE d.desk_id = $1
		FOR SHARE OF d
	`, input.DeskID)
	if err := row.Scan(&deskNumber, &deskActive, &locationID, &locationActive); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrDeskNotFound
		}
		return models.Ticket{}, err
	}
	if !locationActive {
		return models.Ticket{}, store.ErrLocationInactive
	}
	if !deskActive {
		return models.Ticket{}, store.ErrDeskInactive
	}

	seq, err := nextSequence(ctx, tx, input.DeskID, input.ServiceDay)
	if err != nil {
		return models.Ticket{}, err
	}

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	createdAt = createdAt.Truncate(time.Microsecond)

	row = tx.QueryRow(ctx, `
		INSERT INTO tickets (
			ticket_id, desk_id, location_id, queue_number, sequence, service_day, customer_name, customer_phone,
			service_type, notes, is_priority, status, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING `+ticketColumns,
		uuid.NewString(), input.DeskID, locationID, models.QueueNumber(deskNumber, seq), seq, input.ServiceDay,
		input.CustomerName, input.CustomerPhone, input.ServiceType, input.Notes, input.IsPriority, models.StatusWaiting, createdAt)
	ticket, err := scanTicket(row)
	if err != nil {
		return models.Ticket{}, err
	}

	if err := insertTicketEvent(ctx, tx, ticket, store.EventTicketCreated, input.ActorID, createdAt); err != nil {
		return models.Ticket{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	if !isUUID(ticketID) {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	row := s.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE ticket_id = $1`, ticketID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) ListTickets(ctx context.Context, filter store.TicketFilter) ([]models.Ticket, error) {
	where, args := filterClause(filter)
	query := `SELECT ` + ticketColumns + ` FROM tickets` + where + orderClause(filter.Order)
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []models.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tickets, nil
}

func (s *Store) CountTickets(ctx context.Context, filter store.TicketFilter) (store.StatusCounts, error) {
	where, args := filterClause(filter)
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM tickets`+where+` GROUP BY status`, args...)
	if err != nil {
		return store.StatusCounts{}, err
	}
	defer rows.Close()

	var counts store.StatusCounts
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return store.StatusCounts{}, err
		}
		counts.Add(status, n)
	}
	if err := rows.Err(); err != nil {
		return store.StatusCounts{}, err
	}
	return counts, nil
}

func (s *Store) TransitionTicket(ctx context.Context, input store.TransitionInput) (models.Ticket, error) {
	transition, ok := store.LookupTransition(input.Action)
	if !ok {
		return models.Ticket{}, store.ErrInvalidState
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	occurredAt = occurredAt.Truncate(time.Microsecond)

	sets := []string{"status = $1"}
	args := []interface{}{transition.To}
	stamp := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if transition.SetCalledAt {
		stamp("called_at", occurredAt)
	}
	if transition.SetStartedAt {
		stamp("started_at", occurredAt)
	}
	if transition.SetCompletedAt {
		stamp("completed_at", occurredAt)
	}
	if transition.SetHandledBy {
		stamp("handled_by", nullIfEmpty(input.ActorID))
	}
	args = append(args, input.TicketID, transition.From)
	query := fmt.Sprintf(`
		UPDATE tickets SET %s
		WHERE ticket_id = $%d AND status = ANY($%d)
		RETURNING %s`, strings.Join(sets, ", "), len(args)-1, len(args), ticketColumns)

	ticket, err := scanTicket(tx.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			exists, err := ticketExists(ctx, tx, input.TicketID)
			if err != nil {
				return models.Ticket{}, err
			}
			if !exists {
				return models.Ticket{}, store.ErrTicketNotFound
			}
			return models.Ticket{}, store.ErrInvalidState
		}
		return models.Ticket{}, err
	}

	if err := insertTicketEvent(ctx, tx, ticket, transition.EventType, input.ActorID, occurredAt); err != nil {
		return models.Ticket{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) ListTicketEvents(ctx context.Context, ticketID string) ([]store.TicketEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ticket_id, ticket_seq, type, actor_id, payload, created_at, prev_hash, hash
		FROM ticket_events
		WHERE ticket_id = $1
		ORDER BY ticket_seq ASC
	`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.TicketEvent
	for rows.Next() {
		var event store.TicketEvent
		var payload string
		if err := rows.Scan(&event.TicketID, &event.TicketSeq, &event.Type, &event.ActorID, &payload, &event.CreatedAt, &event.PrevHash, &event.Hash); err != nil {
			return nil, err
		}
		event.Payload = []byte(payload)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func filterClause(filter store.TicketFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(expr string, value interface{}) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(expr, len(args)))
	}
	if filter.LocationID != "" {
		add("location_id = $%d", filter.LocationID)
	}
	if filter.DeskID != "" {
		add("desk_id = $%d", filter.DeskID)
	}
	if filter.ServiceDay != "" {
		add("service_day = $%d", filter.ServiceDay)
	}
	if len(filter.Statuses) > 0 {
		add("status = ANY($%d)", filter.Statuses)
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func orderClause(order string) string {
	switch order {
	case store.OrderQueue:
		return " ORDER BY is_priority DESC, created_at ASC, sequence ASC"
	case store.OrderCompletedDesc:
		return " ORDER BY completed_at DESC NULLS LAST"
	default:
		return " ORDER BY created_at ASC, sequence ASC"
	}
}

func nextSequence(ctx context.Context, tx pgx.Tx, deskID, serviceDay string) (int, error) {
	var next int
	row := tx.QueryRow(ctx, `
		INSERT INTO desk_sequences (desk_id, service_day, next_number)
		VALUES ($1, $2, 1)
		ON CONFLICT (desk_id, service_day)
		DO UPDATE SET next_number = desk_sequences.next_number + 1
		RETURNING next_number
	`, deskID, serviceDay)
	if err := row.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

func insertTicketEvent(ctx context.Context, tx pgx.Tx, ticket models.Ticket, eventType, actorID string, createdAt time.Time) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, ticket.TicketID); err != nil {
		return err
	}

	var lastSeq int
	var prevHash sql.NullString
	row := tx.QueryRow(ctx, `
		SELECT ticket_seq, hash
		FROM ticket_events
		WHERE ticket_id = $1
		ORDER BY ticket_seq DESC
		LIMIT 1
	`, ticket.TicketID)
	if err := row.Scan(&lastSeq, &prevHash); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	payload, err := store.EventPayload(ticket)
	if err != nil {
		return err
	}
	nextSeq := lastSeq + 1
	prev := ""
	if prevHash.Valid {
		prev = prevHash.String
	}
	hash := store.ComputeTicketEventHash(prev, ticket.TicketID, eventType, payload, createdAt, nextSeq)

	_, err = tx.Exec(ctx, `
		INSERT INTO ticket_events (ticket_id, ticket_seq, type, actor_id, payload, created_at, prev_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, ticket.TicketID, nextSeq, eventType, actorID, string(payload), createdAt, prev, hash)
	return err
}

func ticketExists(ctx context.Context, tx pgx.Tx, ticketID string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tickets WHERE ticket_id = $1)`, ticketID).Scan(&exists)
	return exists, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTicket(row rowScanner) (models.Ticket, error) {
	var ticket models.Ticket
	var handledBy sql.NullString
	var calledAt, startedAt, completedAt sql.NullTime
	if err := row.Scan(
		&ticket.TicketID, &ticket.DeskID, &ticket.LocationID, &ticket.QueueNumber, &ticket.Sequence, &ticket.ServiceDay,
		&ticket.CustomerName, &ticket.CustomerPhone, &ticket.ServiceType, &ticket.Notes, &ticket.IsPriority, &ticket.Status,
		&handledBy, &ticket.CreatedAt, &calledAt, &startedAt, &completedAt,
	); err != nil {
		return models.Ticket{}, err
	}
	ticket.CreatedAt = ticket.CreatedAt.UTC()
	ticket.HandledBy = nullStringPtr(handledBy)
	ticket.CalledAt = nullTimePtr(calledAt)
	ticket.StartedAt = nullTimePtr(startedAt)
	ticket.CompletedAt = nullTimePtr(completedAt)
	return ticket, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time.UTC()
	return &t
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}
