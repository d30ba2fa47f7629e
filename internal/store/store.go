package store

import (
	"context"
	"time"

	"qms/walkin-service/internal/models"
)

type CreateLocationInput struct {
	Name     string
	Address  string
	Province string
	Phone    string
	Active   bool
}

type CreateDeskInput struct {
	LocationID  string
	DeskNumber  string
	DeskName    string
	ServiceType string
	Active      bool
}

type CreateUserInput struct {
	Username     string
	FullName     string
	Phone        string
	Role         string
	LocationID   *string
	Active       bool
	PasswordHash string
}

type CreateTicketInput struct {
	DeskID        string
	CustomerName  string
	CustomerPhone string
	ServiceType   string
	Notes         string
	IsPriority    bool
	ServiceDay    string
	ActorID       string
	CreatedAt     time.Time
}

type TransitionInput struct {
	TicketID   string
	Action     string
	ActorID    string
	OccurredAt time.Time
}

const (
	OrderQueue         = "queue"
	OrderCompletedDesc = "completed_desc"
	OrderCreated       = "created"
)

// TicketFilter narrows ticket listings; empty fields match everything.
type TicketFilter struct {
	LocationID string
	DeskID     string
	ServiceDay string
	Statuses   []string
	Order      string
	Limit      int
}

type StatusCounts struct {
	Total      int `json:"total"`
	Waiting    int `json:"waiting"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Cancelled  int `json:"cancelled"`
}

func (c *StatusCounts) Add(status string, n int) {
	c.Total += n
	switch status {
	case models.StatusWaiting:
		c.Waiting += n
	case models.StatusInProgress:
		c.InProgress += n
	case models.StatusCompleted:
		c.Completed += n
	case models.StatusCancelled:
		c.Cancelled += n
	}
}

type DirectoryStore interface {
	CreateLocation(ctx context.Context, input CreateLocationInput) (models.Location, error)
	GetLocation(ctx context.Context, locationID string) (models.Location, error)
	ListLocations(ctx context.Context, activeOnly bool) ([]models.Location, error)
	CreateDesk(ctx context.Context, input CreateDeskInput) (models.Desk, error)
	GetDesk(ctx context.Context, deskID string) (models.Desk, error)
	ListDesks(ctx context.Context, locationID string) ([]models.Desk, error)
	DeleteDesk(ctx context.Context, deskID string) error
	CreateUser(ctx context.Context, input CreateUserInput) (models.User, error)
	GetUser(ctx context.Context, userID string) (models.User, error)
	GetUserByUsername(ctx context.Context, username string) (models.User, error)
}

type SessionStore interface {
	CreateSession(ctx context.Context, userID string, expiresAt time.Time) (models.Session, error)
	GetSession(ctx context.Context, sessionID string) (models.Session, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

type TicketStore interface {
	CreateTicket(ctx context.Context, input CreateTicketInput) (models.Ticket, error)
	GetTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	ListTickets(ctx context.Context, filter TicketFilter) ([]models.Ticket, error)
	CountTickets(ctx context.Context, filter TicketFilter) (StatusCounts, error)
	TransitionTicket(ctx context.Context, input TransitionInput) (models.Ticket, error)
	ListTicketEvents(ctx context.Context, ticketID string) ([]TicketEvent, error)
}

type Store interface {
	DirectoryStore
	SessionStore
	TicketStore
	Ping(ctx context.Context) error
	Close() error
}
