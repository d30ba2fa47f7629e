// Package sqlite is the embedded single-file backend. All access goes through
// one connection, so writers are serialized by the pool itself.
package sqlite

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
	sqlite3 "github.com/mattn/go-sqlite3"
)

const ticketColumns = `ticket_id, desk_id, location_id, queue_number, sequence, service_day, customer_name, customer_phone,
	service_type, notes, is_priority, status, handled_by, created_at, called_at, started_at, completed_at`

type Store struct {
	db *sql.DB
}

// Open opens the database at path (":memory:" for a private in-memory database)
// and creates the schema.
func Open(path string) (*Store, error) {
	// Immediate transactions take the write lock up front, so a second
	// process numbering the same desk waits on busy_timeout instead of
	// failing a read-to-write upgrade.
	dsn := path + "?_foreign_keys=1&_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate"
	if path == ":memory:" {
		dsn = "file::memory:?_foreign_keys=1"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := createTables(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var deskNumber, locationID string
	var deskActive, locationActive bool
	row := tx.QueryRowContext(ctx, `
		SELECT d.desk_number, d.active, d.location_id, l.active
		FROM desks d
		JOIN locations l ON l.location_id = d.location_id
		WHERE d.desk_id = ?
	`, input.DeskID)
	if err := row.Scan(&deskNumber, &deskActive, &locationID, &locationActive); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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

	var seq int
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO desk_sequences (desk_id, service_day, next_number)
		VALUES (?, ?, 1)
		ON CONFLICT (desk_id, service_day)
		DO UPDATE SET next_number = next_number + 1
		RETURNING next_number
	`, input.DeskID, input.ServiceDay).Scan(&seq); err != nil {
		return models.Ticket{}, err
	}

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	createdAt = createdAt.UTC().Truncate(time.Microsecond)

	ticketID := uuid.NewString()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO tickets (
			ticket_id, desk_id, location_id, queue_number, sequence, service_day, customer_name, customer_phone,
			service_type, notes, is_priority, status, created_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
	`, ticketID, input.DeskID, locationID, models.QueueNumber(deskNumber, seq), seq, input.ServiceDay,
		input.CustomerName, input.CustomerPhone, input.ServiceType, input.Notes, input.IsPriority, models.StatusWaiting, createdAt); err != nil {
		return models.Ticket{}, err
	}
	ticket, err := scanTicket(tx.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE ticket_id = ?`, ticketID))
	if err != nil {
		return models.Ticket{}, err
	}

	if err := insertTicketEvent(ctx, tx, ticket, store.EventTicketCreated, input.ActorID, createdAt); err != nil {
		return models.Ticket{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	ticket, err := scanTicket(s.db.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE ticket_id = ?`, ticketID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
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
	return tickets, rows.Err()
}

func (s *Store) CountTickets(ctx context.Context, filter store.TicketFilter) (store.StatusCounts, error) {
	where, args := filterClause(filter)
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tickets`+where+` GROUP BY status`, args...)
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
	return counts, rows.Err()
}

func (s *Store) TransitionTicket(ctx context.Context, input store.TransitionInput) (models.Ticket, error) {
	transition, ok := store.LookupTransition(input.Action)
	if !ok {
		return models.Ticket{}, store.ErrInvalidState
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() { _ = tx.Rollback() }()

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}
	occurredAt = occurredAt.UTC().Truncate(time.Microsecond)

	sets := []string{"status = ?"}
	args := []interface{}{transition.To}
	if transition.SetCalledAt {
		sets = append(sets, "called_at = ?")
		args = append(args, occurredAt)
	}
	if transition.SetStartedAt {
		sets = append(sets, "started_at = ?")
		args = append(args, occurredAt)
	}
	if transition.SetCompletedAt {
		sets = append(sets, "completed_at = ?")
		args = append(args, occurredAt)
	}
	if transition.SetHandledBy {
		sets = append(sets, "handled_by = ?")
		args = append(args, nullIfEmpty(input.ActorID))
	}
	args = append(args, input.TicketID)
	for _, status := range transition.From {
		args = append(args, status)
	}
	query := fmt.Sprintf(`UPDATE tickets SET %s WHERE ticket_id = ? AND status IN (%s)`,
		strings.Join(sets, ", "), placeholders(len(transition.From)))

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return models.Ticket{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return models.Ticket{}, err
	}
	ticket, err := scanTicket(tx.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE ticket_id = ?`, input.TicketID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, err
	}
	if affected == 0 {
		return models.Ticket{}, store.ErrInvalidState
	}

	if err := insertTicketEvent(ctx, tx, ticket, transition.EventType, input.ActorID, occurredAt); err != nil {
		return models.Ticket{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) ListTicketEvents(ctx context.Context, ticketID string) ([]store.TicketEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ticket_id, ticket_seq, type, actor_id, payload, created_at, prev_hash, hash
		FROM ticket_events
		WHERE ticket_id = ?
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
	return events, rows.Err()
}

func insertTicketEvent(ctx context.Context, tx *sql.Tx, ticket models.Ticket, eventType, actorID string, createdAt time.Time) error {
	var lastSeq int
	var prevHash sql.NullString
	err := tx.QueryRowContext(ctx, `
		SELECT ticket_seq, hash
		FROM ticket_events
		WHERE ticket_id = ?
		ORDER BY ticket_seq DESC
		LIMIT 1
	`, ticket.TicketID).Scan(&lastSeq, &prevHash)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	payload, err := store.EventPayload(ticket)
	if err != nil {
		return err
	}
	nextSeq := lastSeq + 1
	prev := prevHash.String
	hash := store.ComputeTicketEventHash(prev, ticket.TicketID, eventType, payload, createdAt, nextSeq)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ticket_events (ticket_id, ticket_seq, type, actor_id, payload, created_at, prev_hash, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, ticket.TicketID, nextSeq, eventType, actorID, string(payload), createdAt, prev, hash)
	return err
}

func filterClause(filter store.TicketFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	if filter.LocationID != "" {
		conds = append(conds, "location_id = ?")
		args = append(args, filter.LocationID)
	}
	if filter.DeskID != "" {
		conds = append(conds, "desk_id = ?")
		args = append(args, filter.DeskID)
	}
	if filter.ServiceDay != "" {
		conds = append(conds, "service_day = ?")
		args = append(args, filter.ServiceDay)
	}
	if len(filter.Statuses) > 0 {
		conds = append(conds, "status IN ("+placeholders(len(filter.Statuses))+")")
		for _, status := range filter.Statuses {
			args = append(args, status)
		}
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
		return " ORDER BY completed_at IS NULL, completed_at DESC"
	default:
		return " ORDER BY created_at ASC, sequence ASC"
	}
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
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

func constraintError(err error, code sqlite3.ErrNoExtended) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == code
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
