// Package directory manages the locations and desks an actor can see.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"qms/walkin-service/internal/access"
	"qms/walkin-service/internal/models"
	"qms/walkin-service/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ChangeNotifier hears about desks that were added or removed.
type ChangeNotifier interface {
	DeskChanged(ctx context.Context, desk models.Desk)
}

type Service struct {
	store    store.DirectoryStore
	log      zerolog.Logger
	notifier ChangeNotifier
}

func NewService(st store.DirectoryStore, logger zerolog.Logger) *Service {
	return &Service{store: st, log: logger.With().Str("component", "directory").Logger()}
}

// SetNotifier registers the listener for desk changes.
func (s *Service) SetNotifier(notifier ChangeNotifier) {
	s.notifier = notifier
}

func (s *Service) notify(ctx context.Context, desk models.Desk) {
	if s.notifier != nil {
		s.notifier.DeskChanged(ctx, desk)
	}
}

// AccessibleLocations returns every active location for a superadmin and the
// actor's own location, if active, for everyone else.
func (s *Service) AccessibleLocations(ctx context.Context, actor models.Actor) ([]models.Location, error) {
	if access.IsGlobal(actor) {
		return s.store.ListLocations(ctx, true)
	}
	if actor.LocationID == "" {
		return []models.Location{}, nil
	}
	location, err := s.store.GetLocation(ctx, actor.LocationID)
	if err != nil {
		if errors.Is(err, store.ErrLocationNotFound) {
			return []models.Location{}, nil
		}
		return nil, err
	}
	if !location.Active {
		return []models.Location{}, nil
	}
	return []models.Location{location}, nil
}

func (s *Service) ListDesks(ctx context.Context, actor models.Actor) ([]models.Desk, error) {
	if access.IsGlobal(actor) {
		return s.store.ListDesks(ctx, "")
	}
	if actor.LocationID == "" {
		return []models.Desk{}, nil
	}
	return s.store.ListDesks(ctx, actor.LocationID)
}

func (s *Service) CreateDesk(ctx context.Context, actor models.Actor, input store.CreateDeskInput) (models.Desk, error) {
	if err := access.AuthorizeMutation(actor); err != nil {
		return models.Desk{}, err
	}

	input.LocationID = strings.TrimSpace(input.LocationID)
	input.DeskNumber = strings.TrimSpace(input.DeskNumber)
	input.DeskName = strings.TrimSpace(input.DeskName)
	input.ServiceType = strings.TrimSpace(input.ServiceType)

	if !access.IsGlobal(actor) {
		if actor.LocationID == "" {
			return models.Desk{}, store.ErrLocationUnassigned
		}
		input.LocationID = actor.LocationID
	}
	if input.LocationID == "" {
		return models.Desk{}, fmt.Errorf("%w: location_id is required", store.ErrInvalidInput)
	}
	if input.DeskNumber == "" || input.DeskName == "" {
		return models.Desk{}, fmt.Errorf("%w: desk_number and desk_name are required", store.ErrInvalidInput)
	}
	if _, err := uuid.Parse(input.LocationID); err != nil {
		return models.Desk{}, store.ErrLocationNotFound
	}
	if _, err := s.store.GetLocation(ctx, input.LocationID); err != nil {
		return models.Desk{}, err
	}

	desk, err := s.store.CreateDesk(ctx, input)
	if err != nil {
		return models.Desk{}, err
	}
	s.log.Info().
		Str("desk_id", desk.DeskID).
		Str("location_id", desk.LocationID).
		Str("desk_number", desk.DeskNumber).
		Str("actor", actor.Username).
		Msg("desk created")
	s.notify(ctx, desk)
	return desk, nil
}

func (s *Service) DeleteDesk(ctx context.Context, actor models.Actor, deskID string) error {
	if err := access.AuthorizeMutation(actor); err != nil {
		return err
	}
	desk, err := s.store.GetDesk(ctx, deskID)
	if err != nil {
		return err
	}
	if err := access.AuthorizeDesk(actor, desk); err != nil {
		return err
	}
	if err := s.store.DeleteDesk(ctx, deskID); err != nil {
		return err
	}
	s.log.Info().
		Str("desk_id", desk.DeskID).
		Str("desk_number", desk.DeskNumber).
		Str("actor", actor.Username).
		Msg("desk deleted")
	s.notify(ctx, desk)
	return nil
}
