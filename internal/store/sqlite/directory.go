package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"qms/walkin-service/internal/models"
	"qms/walkin-service/internal/store"

	"github.com/google/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"
)

const (
	locationColumns = `location_id, name, address, province, phone, active, created_at, updated_at`
	deskColumns     = `desk_id, location_id, desk_number, desk_name, service_type, active, created_at, updated_at`
	userColumns     = `user_id, username, full_name, phone, role, location_id, active, password_hash, created_at`
)

func (s *Store) CreateLocation(ctx context.Context, input store.CreateLocationInput) (models.Location, error) {
	locationID := uuid.NewString()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO locations (location_id, name, address, province, phone, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, locationID, input.Name, input.Address, input.Province, input.Phone, input.Active, now, now)
	if err != nil {
		if constraintError(err, sqlite3.ErrConstraintUnique) {
			return models.Location{}, fmt.Errorf("location %q: %w", input.Name, store.ErrInvalidInput)
		}
		return models.Location{}, err
	}
	return s.GetLocation(ctx, locationID)
}

func (s *Store) GetLocation(ctx context.Context, locationID string) (models.Location, error) {
	location, err := scanLocation(s.db.QueryRowContext(ctx, `SELECT `+locationColumns+` FROM locations WHERE location_id = ?`, locationID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Location{}, store.ErrLocationNotFound
		}
		return models.Location{}, err
	}
	return location, nil
}

func (s *Store) ListLocations(ctx context.Context, activeOnly bool) ([]models.Location, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+locationColumns+`
		FROM locations
		WHERE active = 1 OR ? = 0
		ORDER BY name ASC
	`, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var locations []models.Location
	for rows.Next() {
		location, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		locations = append(locations, location)
	}
	return locations, rows.Err()
}

func (s *Store) CreateDesk(ctx context.Context, input store.CreateDeskInput) (models.Desk, error) {
	deskID := uuid.NewString()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO desks (desk_id, location_id, desk_number, desk_name, service_type, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, deskID, input.LocationID, input.DeskNumber, input.DeskName, input.ServiceType, input.Active, now, now)
	if err != nil {
		switch {
		case constraintError(err, sqlite3.ErrConstraintUnique):
			return models.Desk{}, store.ErrDeskNumberTaken
		case constraintError(err, sqlite3.ErrConstraintForeignKey):
			return models.Desk{}, store.ErrLocationNotFound
		}
		return models.Desk{}, err
	}
	return s.GetDesk(ctx, deskID)
}

func (s *Store) GetDesk(ctx context.Context, deskID string) (models.Desk, error) {
	desk, err := scanDesk(s.db.QueryRowContext(ctx, `SELECT `+deskColumns+` FROM desks WHERE desk_id = ?`, deskID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Desk{}, store.ErrDeskNotFound
		}
		return models.Desk{}, err
	}
	return desk, nil
}

func (s *Store) ListDesks(ctx context.Context, locationID string) ([]models.Desk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+deskColumns+`
		FROM desks
		WHERE ? = '' OR location_id = ?
		ORDER BY location_id, desk_number ASC
	`, locationID, locationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var desks []models.Desk
	for rows.Next() {
		desk, err := scanDesk(rows)
		if err != nil {
			return nil, err
		}
		desks = append(desks, desk)
	}
	return desks, rows.Err()
}

func (s *Store) DeleteDesk(ctx context.Context, deskID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM desks WHERE desk_id = ?)`, deskID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return store.ErrDeskNotFound
	}

	var active int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM tickets
		WHERE desk_id = ? AND status IN ('waiting', 'in_progress')
	`, deskID).Scan(&active); err != nil {
		return err
	}
	if active > 0 {
		return store.ErrDeskHasActiveTickets
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM desks WHERE desk_id = ?`, deskID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) CreateUser(ctx context.Context, input store.CreateUserInput) (models.User, error) {
	userID := uuid.NewString()
	var locationID interface{}
	if input.LocationID != nil {
		locationID = *input.LocationID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (user_id, username, full_name, phone, role, location_id, active, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, userID, input.Username, input.FullName, input.Phone, input.Role, locationID, input.Active, input.PasswordHash, time.Now().UTC())
	if err != nil {
		switch {
		case constraintError(err, sqlite3.ErrConstraintUnique):
			return models.User{}, store.ErrUsernameTaken
		case constraintError(err, sqlite3.ErrConstraintForeignKey):
			return models.User{}, store.ErrLocationNotFound
		}
		return models.User{}, err
	}
	return s.GetUser(ctx, userID)
}

func (s *Store) GetUser(ctx context.Context, userID string) (models.User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = ?`, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, store.ErrUserNotFound
		}
		return models.User{}, err
	}
	return user, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, store.ErrUserNotFound
		}
		return models.User{}, err
	}
	return user, nil
}

func (s *Store) CreateSession(ctx context.Context, userID string, expiresAt time.Time) (models.Session, error) {
	sessionID := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, user_id, expires_at, created_at)
		VALUES (?, ?, ?, ?)
	`, sessionID, userID, expiresAt.UTC(), time.Now().UTC())
	if err != nil {
		return models.Session{}, err
	}
	return models.Session{SessionID: sessionID, UserID: userID, ExpiresAt: expiresAt}, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (models.Session, error) {
	var session models.Session
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, user_id, expires_at
		FROM sessions
		WHERE session_id = ?
	`, sessionID).Scan(&session.SessionID, &session.UserID, &session.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Session{}, store.ErrSessionNotFound
		}
		return models.Session{}, err
	}
	return session, nil
}

func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
	return err
}

func scanLocation(row rowScanner) (models.Location, error) {
	var location models.Location
	err := row.Scan(&location.LocationID, &location.Name, &location.Address, &location.Province, &location.Phone,
		&location.Active, &location.CreatedAt, &location.UpdatedAt)
	return location, err
}

func scanDesk(row rowScanner) (models.Desk, error) {
	var desk models.Desk
	err := row.Scan(&desk.DeskID, &desk.LocationID, &desk.DeskNumber, &desk.DeskName, &desk.ServiceType,
		&desk.Active, &desk.CreatedAt, &desk.UpdatedAt)
	return desk, err
}

func scanUser(row rowScanner) (models.User, error) {
	var user models.User
	var locationID sql.NullString
	if err := row.Scan(&user.UserID, &user.Username, &user.FullName, &user.Phone, &user.Role, &locationID,
		&user.Active, &user.PasswordHash, &user.CreatedAt); err != nil {
		return models.User{}, err
	}
	user.LocationID = nullStringPtr(locationID)
	return user, nil
}
