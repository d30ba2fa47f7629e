package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"qms/walkin-service/internal/models"
	"qms/walkin-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	locationColumns = `location_id, name, address, province, phone, active, created_at, updated_at`
	deskColumns     = `desk_id, location_id, desk_number, desk_name, service_type, active, created_at, updated_at`
	userColumns     = `user_id, username, full_name, phone, role, location_id, active, password_hash, created_at`
)

func (s *Store) CreateLocation(ctx context.Context, input store.CreateLocationInput) (models.Location, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO locations (location_id, name, address, province, phone, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+locationColumns,
		uuid.NewString(), input.Name, input.Address, input.Province, input.Phone, input.Active)
	location, err := scanLocation(row)
	if err != nil {
		if isUniqueViolation(err) {
			return models.Location{}, fmt.Errorf("location %q: %w", input.Name, store.ErrInvalidInput)
		}
		return models.Location{}, err
	}
	return location, nil
}

func (s *Store) GetLocation(ctx context.Context, locationID string) (models.Location, error) {
	if !isUUID(locationID) {
		return models.Location{}, store.ErrLocationNotFound
	}
	location, err := scanLocation(s.pool.QueryRow(ctx, `SELECT `+locationColumns+` FROM locations WHERE location_id = $1`, locationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Location{}, store.ErrLocationNotFound
		}
		return models.Location{}, err
	}
	return location, nil
}

func (s *Store) ListLocations(ctx context.Context, activeOnly bool) ([]models.Location, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+locationColumns+`
		FROM locations
		WHERE active OR NOT $1
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
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return locations, nil
}

func (s *Store) CreateDesk(ctx context.Context, input store.CreateDeskInput) (models.Desk, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO desks (desk_id, location_id, desk_number, desk_name, service_type, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+deskColumns,
		uuid.NewString(), input.LocationID, input.DeskNumber, input.DeskName, input.ServiceType, input.Active)
	desk, err := scanDesk(row)
	if err != nil {
		switch {
		case isUniqueViolation(err):
			return models.Desk{}, store.ErrDeskNumberTaken
		case isForeignKeyViolation(err):
			return models.Desk{}, store.ErrLocationNotFound
		}
		return models.Desk{}, err
	}
	return desk, nil
}

func (s *Store) GetDesk(ctx context.Context, deskID string) (models.Desk, error) {
	if !isUUID(deskID) {
		return models.Desk{}, store.ErrDeskNotFound
	}
	desk, err := scanDesk(s.pool.QueryRow(ctx, `SELECT `+deskColumns+` FROM desks WHERE desk_id = $1`, deskID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Desk{}, store.ErrDeskNotFound
		}
		return models.Desk{}, err
	}
	return desk, nil
}

func (s *Store) ListDesks(ctx context.Context, locationID string) ([]models.Desk, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+deskColumns+`
		FROM desks
		WHERE $1 = '' OR location_id::text = $1
		ORDER BY location_id, desk_number ASC
	`, locationID)
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
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return desks, nil
}

// DeleteDesk removes the desk and its ticket history unless the line is still open.
func (s *Store) DeleteDesk(ctx context.Context, deskID string) error {
	if !isUUID(deskID) {
		return store.ErrDeskNotFound
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var locked string
	if err := tx.QueryRow(ctx, `SELECT desk_id FROM desks WHERE desk_id = $1 FOR UPDATE`, deskID).Scan(&locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrDeskNotFound
		}
		return err
	}

	var active int
	if err := tx.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM tickets
		WHERE desk_id = $1 AND status IN ('waiting', 'in_progress')
	`, deskID).Scan(&active); err != nil {
		return err
	}
	if active > 0 {
		return store.ErrDeskHasActiveTickets
	}

	if _, err := tx.Exec(ctx, `DELETE FROM desks WHERE desk_id = $1`, deskID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) CreateUser(ctx context.Context, input store.CreateUserInput) (models.User, error) {
	var locationID interface{}
	if input.LocationID != nil {
		locationID = *input.LocationID
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO users (user_id, username, full_name, phone, role, location_id, active, password_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+userColumns,
		uuid.NewString(), input.Username, input.FullName, input.Phone, input.Role, locationID, input.Active, input.PasswordHash)
	user, err := scanUser(row)
	if err != nil {
		switch {
		case isUniqueViolation(err):
			return models.User{}, store.ErrUsernameTaken
		case isForeignKeyViolation(err):
			return models.User{}, store.ErrLocationNotFound
		}
		return models.User{}, err
	}
	return user, nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (models.User, error) {
	if !isUUID(userID) {
		return models.User{}, store.ErrUserNotFound
	}
	user, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = $1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, store.ErrUserNotFound
		}
		return models.User{}, err
	}
	return user, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	user, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, store.ErrUserNotFound
		}
		return models.User{}, err
	}
	return user, nil
}

func (s *Store) CreateSession(ctx context.Context, userID string, expiresAt time.Time) (models.Session, error) {
	sessionID := uuid.NewString()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (session_id, user_id, expires_at)
		VALUES ($1, $2, $3)
	`, sessionID, userID, expiresAt)
	if err != nil {
		return models.Session{}, err
	}
	return models.Session{SessionID: sessionID, UserID: userID, ExpiresAt: expiresAt}, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (models.Session, error) {
	if !isUUID(sessionID) {
		return models.Session{}, store.ErrSessionNotFound
	}
	var session models.Session
	row := s.pool.QueryRow(ctx, `
		SELECT session_id, user_id, expires_at
		FROM sessions
		WHERE session_id = $1
	`, sessionID)
	if err := row.Scan(&session.SessionID, &session.UserID, &session.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Session{}, store.ErrSessionNotFound
		}
		return models.Session{}, err
	}
	return session, nil
}

func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	if !isUUID(sessionID) {
		return nil
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE session_id = $1`, sessionID)
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
