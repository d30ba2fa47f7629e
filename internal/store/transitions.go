package store

import "qms/walkin-service/internal/models"

const (
	ActionCall         = "call"
	ActionStartServing = "start_serving"
	ActionCallTicket   = "call_ticket"
	ActionComplete     = "complete"
	ActionCancel       = "cancel"
)

// Transition describes what an action writes when it is allowed.
type Transition struct {
	From           []string
	To             string
	EventType      string
	SetCalledAt    bool
	SetStartedAt   bool
	SetCompletedAt bool
	SetHandledBy   bool
}

var transitionMap = map[string]Transition{
	ActionCall: {
		From:        []string{models.StatusWaiting},
		To:          models.StatusWaiting,
		EventType:   "ticket.called",
		SetCalledAt: true,
	},
	ActionStartServing: {
		From:         []string{models.StatusWaiting},
		To:           models.StatusInProgress,
		EventType:    "ticket.serving",
		SetStartedAt: true,
		SetHandledBy: true,
	},
	ActionCallTicket: {
		From:         []string{models.StatusWaiting},
		To:           models.StatusInProgress,
		EventType:    "ticket.serving",
		SetCalledAt:  true,
		SetStartedAt: true,
		SetHandledBy: true,
	},
	ActionComplete: {
		From:           []string{models.StatusInProgress},
		To:             models.StatusCompleted,
		EventType:      "ticket.completed",
		SetCompletedAt: true,
	},
	ActionCancel: {
		From:      []string{models.StatusWaiting, models.StatusInProgress},
		To:        models.StatusCancelled,
		EventType: "ticket.cancelled",
	},
}

func LookupTransition(action string) (Transition, bool) {
	transition, ok := transitionMap[action]
	return transition, ok
}

func ValidTransition(action, fromStatus string) bool {
	transition, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range transition.From {
		if status == fromStatus {
			return true
		}
	}
	return false
}
