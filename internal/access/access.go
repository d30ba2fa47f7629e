// Package access decides which locations, desks and tickets an actor may see
// or change. Superadmins are global; everyone else is confined to their own
// location, and an actor without a location sees nothing.
package access

import (
	"qms/walkin-service/internal/models"
	"qms/walkin-service/internal/store"
)

func IsGlobal(actor models.Actor) bool {
	return actor.Role == models.RoleSuperAdmin
}

// CanMutate reports whether the actor may create tickets, drive ticket state
// and manage desks.
func CanMutate(actor models.Actor) bool {
	return actor.Role == models.RoleAdmin || actor.Role == models.RoleSuperAdmin
}

func CanAccessLocation(actor models.Actor, locationID string) bool {
	if IsGlobal(actor) {
		return true
	}
	return actor.LocationID != "" && actor.LocationID == locationID
}

func CanAccessDesk(actor models.Actor, desk models.Desk) bool {
	return CanAccessLocation(actor, desk.LocationID)
}

func CanAccessTicket(actor models.Actor, ticket models.Ticket) bool {
	return CanAccessLocation(actor, ticket.LocationID)
}

func AuthorizeDesk(actor models.Actor, desk models.Desk) error {
	if !CanAccessDesk(actor, desk) {
		return store.ErrAccessDenied
	}
	return nil
}

func AuthorizeTicket(actor models.Actor, ticket models.Ticket) error {
	if !CanAccessTicket(actor, ticket) {
		return store.ErrAccessDenied
	}
	return nil
}

func AuthorizeMutation(actor models.Actor) error {
	if !CanMutate(actor) {
		return store.ErrAccessDenied
	}
	return nil
}
