// Package dashboard aggregates today's queue figures for the locations and
// desks an actor can see.
package dashboard

import (
	"context"
	"encoding/json"
	"time"

	"qms/walkin-service/internal/access"
	"qms/walkin-service/internal/directory"
	"qms/walkin-service/internal/metrics"
	"qms/walkin-service/internal/models"
	"qms/walkin-service/internal/queue"
	"qms/walkin-service/internal/store"

	"github.com/rs/zerolog"
)

const recentCompletedLimit = 10

type Store interface {
	ListDesks(ctx context.Context, locationID string) ([]models.Desk, error)
	ListTickets(ctx context.Context, filter store.TicketFilter) ([]models.Ticket, error)
	CountTickets(ctx context.Context, filter store.TicketFilter) (store.StatusCounts, error)
}

type LocationSummary struct {
	Location models.Location      `json:"location"`
	Counts   store.StatusCounts   `json:"counts"`
	Desks    []queue.DeskSnapshot `json:"desks"`
}

type Summary struct {
	ServiceDay  string             `json:"service_day"`
	Locations   []LocationSummary  `json:"locations"`
	Totals      store.StatusCounts `json:"totals"`
	GeneratedAt time.Time          `json:"generated_at"`
}

type DeskDetail struct {
	Desk                  models.Desk     `json:"desk"`
	ServiceDay            string          `json:"service_day"`
	CurrentServing        *models.Ticket  `json:"current_serving,omitempty"`
	Waiting               []models.Ticket `json:"waiting"`
	CompletedToday        []models.Ticket `json:"completed_today"`
	TodayTotal            int             `json:"today_total"`
	WaitingCount          int             `json:"waiting_count"`
	AverageServiceMinutes int             `json:"average_service_minutes"`
}

type Options struct {
	Cache    Cache
	CacheTTL time.Duration
	Logger   zerolog.Logger
}

type Service struct {
	store     Store
	engine    *queue.Engine
	directory *directory.Service
	cache     Cache
	ttl       time.Duration
	log       zerolog.Logger
}

func NewService(st Store, engine *queue.Engine, dir *directory.Service, options Options) *Service {
	return &Service{
		store:     st,
		engine:    engine,
		directory: dir,
		cache:     options.Cache,
		ttl:       options.CacheTTL,
		log:       options.Logger.With().Str("component", "dashboard").Logger(),
	}
}

func (s *Service) Summary(ctx context.Context, actor models.Actor) (Summary, error) {
	day := s.engine.Today()
	key := summaryKey(day, actor)
	if key != "" && s.cache != nil {
		if cached, ok := s.cachedSummary(ctx, key); ok {
			return cached, nil
		}
	}

	summary, err := s.buildSummary(ctx, actor, day)
	if err != nil {
		return Summary{}, err
	}

	if key != "" && s.cache != nil {
		data, err := json.Marshal(summary)
		if err == nil {
			err = s.cache.Set(ctx, key, data, s.ttl)
		}
		if err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("dashboard cache write failed")
		}
	}
	return summary, nil
}

func (s *Service) cachedSummary(ctx context.Context, key string) (Summary, bool) {
	data, found, err := s.cache.Get(ctx, key)
	if err != nil {
		metrics.IncDashboardCache("error")
		s.log.Warn().Err(err).Str("key", key).Msg("dashboard cache read failed")
		return Summary{}, false
	}
	if !found {
		metrics.IncDashboardCache("miss")
		return Summary{}, false
	}
	var summary Summary
	if err := json.Unmarshal(data, &summary); err != nil {
		metrics.IncDashboardCache("error")
		return Summary{}, false
	}
	metrics.IncDashboardCache("hit")
	return summary, true
}

func (s *Service) buildSummary(ctx context.Context, actor models.Actor, day string) (Summary, error) {
	locations, err := s.directory.AccessibleLocations(ctx, actor)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{
		ServiceDay:  day,
		Locations:   make([]LocationSummary, 0, len(locations)),
		GeneratedAt: s.engine.Now().UTC(),
	}
	for _, location := range locations {
		counts, err := s.store.CountTickets(ctx, store.TicketFilter{LocationID: location.LocationID, ServiceDay: day})
		if err != nil {
			return Summary{}, err
		}
		desks, err := s.store.ListDesks(ctx, location.LocationID)
		if err != nil {
			return Summary{}, err
		}

		item := LocationSummary{Location: location, Counts: counts, Desks: make([]queue.DeskSnapshot, 0, len(desks))}
		for _, desk := range desks {
			snapshot, err := s.engine.SnapshotForDesk(ctx, desk)
			if err != nil {
				return Summary{}, err
			}
			item.Desks = append(item.Desks, snapshot)
		}

		summary.Totals.Total += counts.Total
		summary.Totals.Waiting += counts.Waiting
		summary.Totals.InProgress += counts.InProgress
		summary.Totals.Completed += counts.Completed
		summary.Totals.Cancelled += counts.Cancelled
		summary.Locations = append(summary.Locations, item)
	}
	return summary, nil
}

func (s *Service) DeskDetail(ctx context.Context, actor models.Actor, deskID string) (DeskDetail, error) {
	desk, err := s.engine.AuthorizedDesk(ctx, actor, deskID)
	if err != nil {
		return DeskDetail{}, err
	}
	snapshot, err := s.engine.SnapshotForDesk(ctx, desk)
	if err != nil {
		return DeskDetail{}, err
	}

	day := s.engine.Today()
	waiting, err := s.store.ListTickets(ctx, store.TicketFilter{
		DeskID:     desk.DeskID,
		ServiceDay: day,
		Statuses:   []string{models.StatusWaiting},
		Order:      store.OrderQueue,
	})
	if err != nil {
		return DeskDetail{}, err
	}
	completed, err := s.store.ListTickets(ctx, store.TicketFilter{
		DeskID:     desk.DeskID,
		ServiceDay: day,
		Statuses:   []string{models.StatusCompleted},
		Order:      store.OrderCompletedDesc,
	})
	if err != nil {
		return DeskDetail{}, err
	}

	recent := completed
	if len(recent) > recentCompletedLimit {
		recent = recent[:recentCompletedLimit]
	}
	return DeskDetail{
		Desk:                  desk,
		ServiceDay:            day,
		CurrentServing:        snapshot.CurrentServing,
		Waiting:               nonNil(waiting),
		CompletedToday:        nonNil(recent),
		TodayTotal:            snapshot.TodayTotal,
		WaitingCount:          len(waiting),
		AverageServiceMinutes: models.AverageServiceMinutes(completed),
	}, nil
}

// TicketChanged drops the cached summaries the ticket's location shows up in.
func (s *Service) TicketChanged(ctx context.Context, ticket models.Ticket) {
	if s.cache == nil {
		return
	}
	keys := []string{
		locationKey(ticket.ServiceDay, ticket.LocationID),
		locationKey(ticket.ServiceDay, globalScope),
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.log.Warn().Err(err).Str("ticket_id", ticket.TicketID).Msg("dashboard cache invalidation failed")
	}
}

// DeskChanged drops today's cached summaries listing the desk's location.
func (s *Service) DeskChanged(ctx context.Context, desk models.Desk) {
	if s.cache == nil {
		return
	}
	day := s.engine.Today()
	keys := []string{
		locationKey(day, desk.LocationID),
		locationKey(day, globalScope),
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.log.Warn().Err(err).Str("desk_id", desk.DeskID).Msg("dashboard cache invalidation failed")
	}
}

const globalScope = "all"

func summaryKey(day string, actor models.Actor) string {
	if access.IsGlobal(actor) {
		return locationKey(day, globalScope)
	}
	if actor.LocationID == "" {
		return ""
	}
	return locationKey(day, actor.LocationID)
}

func locationKey(day, scope string) string {
	return "walkin:dashboard:" + day + ":" + scope
}

func nonNil(tickets []models.Ticket) []models.Ticket {
	if tickets == nil {
		return []models.Ticket{}
	}
	return tickets
}
