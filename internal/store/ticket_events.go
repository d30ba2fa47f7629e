package store

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"qms/walkin-service/internal/models"
)

const EventTicketCreated = "ticket.created"

type TicketEvent struct {
	TicketID  string          `json:"ticket_id"`
	TicketSeq int             `json:"ticket_seq"`
	Type      string          `json:"type"`
	ActorID   string          `json:"actor_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash"`
}

type eventPayload struct {
	TicketID     string     `json:"ticket_id"`
	QueueNumber  string     `json:"queue_number"`
	Status       string     `json:"status"`
	DeskID       string     `json:"desk_id"`
	LocationID   string     `json:"location_id"`
	CustomerName string     `json:"customer_name"`
	ServiceType  string     `json:"service_type"`
	IsPriority   bool       `json:"is_priority"`
	HandledBy    *string    `json:"handled_by"`
	CreatedAt    *time.Time `json:"created_at"`
	CalledAt     *time.Time `json:"called_at"`
	StartedAt    *time.Time `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at"`
}

// EventPayload snapshots the ticket fields recorded in its history.
func EventPayload(ticket models.Ticket) ([]byte, error) {
	created := ticket.CreatedAt
	return json.Marshal(eventPayload{
		TicketID:     ticket.TicketID,
		QueueNumber:  ticket.QueueNumber,
		Status:       ticket.Status,
		DeskID:       ticket.DeskID,
		LocationID:   ticket.LocationID,
		CustomerName: ticket.CustomerName,
		ServiceType:  ticket.ServiceType,
		IsPriority:   ticket.IsPriority,
		HandledBy:    ticket.HandledBy,
		CreatedAt:    &created,
		CalledAt:     ticket.CalledAt,
		StartedAt:    ticket.StartedAt,
		CompletedAt:  ticket.CompletedAt,
	})
}

func ComputeTicketEventHash(prevHash, ticketID, eventType string, payload json.RawMessage, createdAt time.Time, seq int) string {
	raw := fmt.Sprintf("%s|%s|%s|%s|%d|%s", prevHash, ticketID, eventType, createdAt.UTC().Format(time.RFC3339Nano), seq, payload)
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum)
}

// VerifyTicketEvents checks sequence continuity and the hash links of one ticket's history.
func VerifyTicketEvents(events []TicketEvent) error {
	prev := ""
	for i, event := range events {
		if event.TicketSeq != i+1 {
			return fmt.Errorf("%w: seq %d at position %d", ErrEventChainBroken, event.TicketSeq, i)
		}
		if event.PrevHash != prev {
			return fmt.Errorf("%w: prev hash mismatch at seq %d", ErrEventChainBroken, event.TicketSeq)
		}
		want := ComputeTicketEventHash(event.PrevHash, event.TicketID, event.Type, event.Payload, event.CreatedAt, event.TicketSeq)
		if event.Hash != want {
			return fmt.Errorf("%w: hash mismatch at seq %d", ErrEventChainBroken, event.TicketSeq)
		}
		prev = event.Hash
	}
	return nil
}

func RehydrateTicket(events []TicketEvent) (models.Ticket, error) {
	var ticket models.Ticket
	for _, event := range events {
		if len(event.Payload) == 0 {
			continue
		}
		var payload eventPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return models.Ticket{}, err
		}
		if payload.TicketID != "" {
			ticket.TicketID = payload.TicketID
		}
		if payload.QueueNumber != "" {
			ticket.QueueNumber = payload.QueueNumber
		}
		if payload.DeskID != "" {
			ticket.DeskID = payload.DeskID
		}
		if payload.LocationID != "" {
			ticket.LocationID = payload.LocationID
		}
		if payload.CustomerName != "" {
			ticket.CustomerName = payload.CustomerName
		}
		if payload.ServiceType != "" {
			ticket.ServiceType = payload.ServiceType
		}
		if payload.Status != "" {
			ticket.Status = payload.Status
		}
		ticket.IsPriority = payload.IsPriority
		if payload.HandledBy != nil {
			ticket.HandledBy = payload.HandledBy
		}
		if payload.CreatedAt != nil {
			ticket.CreatedAt = *payload.CreatedAt
		}
		if payload.CalledAt != nil {
			ticket.CalledAt = payload.CalledAt
		}
		if payload.StartedAt != nil {
			ticket.StartedAt = payload.StartedAt
		}
		if payload.CompletedAt != nil {
			ticket.CompletedAt = payload.CompletedAt
		}
	}
	return ticket, nil
}

// ReconcileTicket replays the history and checks it ends in the stored row.
func ReconcileTicket(events []TicketEvent, current models.Ticket) error {
	if len(events) == 0 {
		return fmt.Errorf("%w: ticket %s has no history", ErrEventChainBroken, current.TicketID)
	}
	replayed, err := RehydrateTicket(events)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEventChainBroken, err)
	}
	switch {
	case replayed.TicketID != current.TicketID,
		replayed.QueueNumber != current.QueueNumber,
		replayed.DeskID != current.DeskID,
		replayed.LocationID != current.LocationID,
		replayed.IsPriority != current.IsPriority:
		return fmt.Errorf("%w: identity differs from stored ticket %s", ErrEventChainBroken, current.TicketID)
	case replayed.Status != current.Status:
		return fmt.Errorf("%w: history ends in %s, stored ticket is %s", ErrEventChainBroken, replayed.Status, current.Status)
	case !sameString(replayed.HandledBy, current.HandledBy),
		!replayed.CreatedAt.Equal(current.CreatedAt),
		!sameTime(replayed.CalledAt, current.CalledAt),
		!sameTime(replayed.StartedAt, current.StartedAt),
		!sameTime(replayed.CompletedAt, current.CompletedAt):
		return fmt.Errorf("%w: handling differs from stored ticket %s", ErrEventChainBroken, current.TicketID)
	}
	return nil
}

func sameString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
