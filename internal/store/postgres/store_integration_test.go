package postgres

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"qms/walkin-service/internal/models"
	"qms/walkin-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func TestCreateTicketConcurrentNumbering(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	desk := seedDesk(t, ctx, st, "Bàn 7", true)

	const workers = 8
	var wg sync.WaitGroup
	numbers := make(chan string, workers)
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticket, err := st.CreateTicket(ctx, store.CreateTicketInput{
				DeskID:       desk.DeskID,
				CustomerName: "Khách",
				ServiceType:  "Hộ tịch",
				ServiceDay:   "2026-03-01",
			})
			if err != nil {
				errs <- err
				return
			}
			numbers <- ticket.QueueNumber
		}()
	}
	wg.Wait()
	close(numbers)
	close(errs)

	for err := range errs {
		t.Fatalf("create ticket: %v", err)
	}
	seen := map[string]bool{}
	for number := range numbers {
		if seen[number] {
			t.Fatalf("duplicate queue number %s", number)
		}
		seen[number] = true
	}
	for i := 1; i <= workers; i++ {
		want := models.QueueNumber("Bàn 7", i)
		if !seen[want] {
			t.Fatalf("missing queue number %s in %v", want, seen)
		}
	}
}

func TestTransitionCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	desk := seedDesk(t, ctx, st, "Bàn 1", true)
	ticket := createTicket(t, ctx, st, desk.DeskID, false)

	if _, err := st.TransitionTicket(ctx, store.TransitionInput{TicketID: ticket.TicketID, Action: store.ActionCallTicket}); err != nil {
		t.Fatalf("call ticket: %v", err)
	}

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := st.TransitionTicket(ctx, store.TransitionInput{TicketID: ticket.TicketID, Action: store.ActionComplete})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, conflicts int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, store.ErrInvalidState):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || conflicts != 1 {
		t.Fatalf("expected one winner and one conflict, got ok=%d conflicts=%d", ok, conflicts)
	}

	events, err := st.ListTicketEvents(ctx, ticket.TicketID)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if err := store.VerifyTicketEvents(events); err != nil {
		t.Fatalf("verify events: %v", err)
	}
}

func TestCreateTicketRejectsInactiveLocation(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	desk := seedDesk(t, ctx, st, "Bàn 2", true)
	if _, err := pool.Exec(ctx, `UPDATE locations SET active = FALSE WHERE location_id = $1`, desk.LocationID); err != nil {
		t.Fatalf("deactivate location: %v", err)
	}

	_, err := st.CreateTicket(ctx, store.CreateTicketInput{DeskID: desk.DeskID, CustomerName: "A", ServiceType: "B", ServiceDay: "2026-03-01"})
	if !errors.Is(err, store.ErrLocationInactive) {
		t.Fatalf("expected ErrLocationInactive, got %v", err)
	}
}

func TestDeleteDeskWithActiveTickets(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	desk := seedDesk(t, ctx, st, "Bàn 3", true)
	ticket := createTicket(t, ctx, st, desk.DeskID, true)

	if err := st.DeleteDesk(ctx, desk.DeskID); !errors.Is(err, store.ErrDeskHasActiveTickets) {
		t.Fatalf("expected ErrDeskHasActiveTickets, got %v", err)
	}
	if _, err := st.TransitionTicket(ctx, store.TransitionInput{TicketID: ticket.TicketID, Action: store.ActionCancel}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := st.DeleteDesk(ctx, desk.DeskID); err != nil {
		t.Fatalf("delete desk: %v", err)
	}
	if _, err := st.GetTicket(ctx, ticket.TicketID); !errors.Is(err, store.ErrTicketNotFound) {
		t.Fatalf("expected ticket removed with desk, got %v", err)
	}
}

func setupTestStore(t *testing.T, ctx context.Context) (*Store, *pgxpool.Pool, func()) {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		dsn = os.Getenv("DB_DSN")
	}
	if dsn == "" {
		t.Skip("TEST_DB_DSN or DB_DSN is required for integration tests")
	}

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := createSchema(ctx, dsn, schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	pool, err := newPoolWithSchema(ctx, dsn, schema)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}

	if err := applyMigrations(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("apply migrations: %v", err)
	}

	cleanup := func() {
		pool.Close()
		_ = dropSchema(context.Background(), dsn, schema)
	}
	return NewStore(pool), pool, cleanup
}

func createSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "CREATE SCHEMA "+schema)
	return err
}

func dropSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "DROP SCHEMA "+schema+" CASCADE")
	return err
}

func newPoolWithSchema(ctx context.Context, dsn, schema string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	return pgxpool.NewWithConfig(ctx, cfg)
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	dir := filepath.Join("..", "..", "..", "migrations")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	for _, name := range files {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if strings.TrimSpace(string(content)) == "" {
			continue
		}
		if _, err := pool.Exec(ctx, string(content)); err != nil {
			return err
		}
	}
	return nil
}

func seedDesk(t *testing.T, ctx context.Context, st *Store, deskNumber string, active bool) models.Desk {
	t.Helper()
	location, err := st.CreateLocation(ctx, store.CreateLocationInput{Name: "Phường " + uuid.NewString()[:8], Active: true})
	if err != nil {
		t.Fatalf("create location: %v", err)
	}
	desk, err := st.CreateDesk(ctx, store.CreateDeskInput{
		LocationID: location.LocationID,
		DeskNumber: deskNumber,
		DeskName:   "Quầy " + deskNumber,
		Active:     active,
	})
	if err != nil {
		t.Fatalf("create desk: %v", err)
	}
	return desk
}

func createTicket(t *testing.T, ctx context.Context, st *Store, deskID string, priority bool) models.Ticket {
	t.Helper()
	ticket, err := st.CreateTicket(ctx, store.CreateTicketInput{
		DeskID:       deskID,
		CustomerName: "Nguyễn Văn A",
		ServiceType:  "Chứng thực",
		IsPriority:   priority,
		ServiceDay:   "2026-03-01",
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	return ticket
}
