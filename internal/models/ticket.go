package models

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

type Ticket struct {
	TicketID      string     `json:"ticket_id"`
	QueueNumber   string     `json:"queue_number"`
	Sequence      int        `json:"sequence"`
	ServiceDay    string     `json:"service_day"`
	DeskID        string     `json:"desk_id"`
	LocationID    string     `json:"location_id"`
	CustomerName  string     `json:"customer_name"`
	CustomerPhone string     `json:"customer_phone,omitempty"`
	ServiceType   string     `json:"service_type"`
	Notes         string     `json:"notes,omitempty"`
	IsPriority    bool       `json:"is_priority"`
	Status        string     `json:"status"`
	HandledBy     *string    `json:"handled_by,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CalledAt      *time.Time `json:"called_at,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

const (
	StatusWaiting    = "waiting"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

const queueNumberPad = 3

// QueueNumber builds the display number from the desk number with any
// non-digit label stripped and the 1-based daily sequence, e.g. "Bàn 7", 5 -> "7005".
func QueueNumber(deskNumber string, sequence int) string {
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, deskNumber)
	if digits == "" {
		digits = strings.TrimSpace(deskNumber)
	}
	return fmt.Sprintf("%s%0*d", digits, queueNumberPad, sequence)
}

// ServiceDay formats t as the calendar day in loc.
func ServiceDay(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(time.DateOnly)
}

func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusCancelled
}

// WaitingMinutes is the time spent in line in whole minutes.
func (t Ticket) WaitingMinutes(now time.Time) int {
	if t.StartedAt != nil {
		return wholeMinutes(t.StartedAt.Sub(t.CreatedAt))
	}
	if t.Status == StatusWaiting {
		return wholeMinutes(now.Sub(t.CreatedAt))
	}
	return 0
}

// ServiceMinutes is zero until the ticket has both started and completed.
func (t Ticket) ServiceMinutes() int {
	if t.StartedAt == nil || t.CompletedAt == nil {
		return 0
	}
	return wholeMinutes(t.CompletedAt.Sub(*t.StartedAt))
}

func AverageServiceMinutes(tickets []Ticket) int {
	if len(tickets) == 0 {
		return 0
	}
	total := 0
	for _, ticket := range tickets {
		total += ticket.ServiceMinutes()
	}
	return total / len(tickets)
}

func wholeMinutes(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(d / time.Minute)
}
