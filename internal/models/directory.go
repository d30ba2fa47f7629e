package models

import "time"

type Location struct {
	LocationID string    `json:"location_id"`
	Name       string    `json:"name"`
	Address    string    `json:"address"`
	Province   string    `json:"province"`
	Phone      string    `json:"phone,omitempty"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Desk struct {
	DeskID      string    `json:"desk_id"`
	LocationID  string    `json:"location_id"`
	DeskNumber  string    `json:"desk_number"`
	DeskName    string    `json:"desk_name"`
	ServiceType string    `json:"service_type"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

const (
	RoleStaff      = "staff"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "superadmin"
)

func ValidRole(role string) bool {
	switch role {
	case RoleStaff, RoleAdmin, RoleSuperAdmin:
		return true
	default:
		return false
	}
}

type User struct {
	UserID       string    `json:"user_id"`
	Username     string    `json:"username"`
	FullName     string    `json:"full_name"`
	Phone        string    `json:"phone,omitempty"`
	Role         string    `json:"role"`
	LocationID   *string   `json:"location_id,omitempty"`
	Active       bool      `json:"active"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Actor is the authenticated identity every queue operation runs as.
type Actor struct {
	UserID     string `json:"user_id"`
	Username   string `json:"username"`
	Role       string `json:"role"`
	LocationID string `json:"location_id,omitempty"`
	Active     bool   `json:"active"`
}

func (u User) Actor() Actor {
	actor := Actor{
		UserID:   u.UserID,
		Username: u.Username,
		Role:     u.Role,
		Active:   u.Active,
	}
	if u.LocationID != nil {
		actor.LocationID = *u.LocationID
	}
	return actor
}

type Session struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}
