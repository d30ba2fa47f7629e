package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"qms/walkin-service/internal/auth"
	"qms/walkin-service/internal/dashboard"
	"qms/walkin-service/internal/models"
	"qms/walkin-service/internal/queue"
	"qms/walkin-service/internal/store"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Authenticator interface {
	Login(ctx context.Context, username, password string) (auth.LoginResult, error)
	Authenticate(ctx context.Context, sessionID string) (models.Actor, error)
	Logout(ctx context.Context, sessionID string) error
}

type QueueService interface {
	AddTicket(ctx context.Context, actor models.Actor, deskID string, input queue.AddTicketInput) (models.Ticket, error)
	Call(ctx context.Context, actor models.Actor, ticketID string) (models.Ticket, error)
	StartServing(ctx context.Context, actor models.Actor, ticketID string) (models.Ticket, error)
	CallTicket(ctx context.Context, actor models.Actor, ticketID string) (models.Ticket, error)
	Complete(ctx context.Context, actor models.Actor, ticketID string) (models.Ticket, error)
	Cancel(ctx context.Context, actor models.Actor, ticketID string) (models.Ticket, error)
	GetTicket(ctx context.Context, actor models.Actor, ticketID string) (models.Ticket, error)
	TicketHistory(ctx context.Context, actor models.Actor, ticketID string) ([]store.TicketEvent, error)
	WaitingLine(ctx context.Context, actor models.Actor, deskID string) ([]models.Ticket, error)
	Snapshot(ctx context.Context, actor models.Actor, deskID string) (queue.DeskSnapshot, error)
}

type DashboardService interface {
	Summary(ctx context.Context, actor models.Actor) (dashboard.Summary, error)
	DeskDetail(ctx context.Context, actor models.Actor, deskID string) (dashboard.DeskDetail, error)
	ExportDesk(ctx context.Context, actor models.Actor, deskID, day string) ([]byte, error)
}

type DirectoryService interface {
	AccessibleLocations(ctx context.Context, actor models.Actor) ([]models.Location, error)
	ListDesks(ctx context.Context, actor models.Actor) ([]models.Desk, error)
	CreateDesk(ctx context.Context, actor models.Actor, input store.CreateDeskInput) (models.Desk, error)
	DeleteDesk(ctx context.Context, actor models.Actor, deskID string) error
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	Auth      Authenticator
	Queue     QueueService
	Dashboard DashboardService
	Directory DirectoryService
	Health    Pinger
	// Limiter, when set, throttles each authenticated actor.
	Limiter *RateLimiter
}

type Handler struct {
	auth      Authenticator
	queue     QueueService
	dashboard DashboardService
	directory DirectoryService
	health    Pinger
	limiter   *RateLimiter
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	SessionID string       `json:"session_id"`
	ExpiresAt string       `json:"expires_at"`
	User      models.Actor `json:"user"`
}

type createDeskRequest struct {
	LocationID  string `json:"location_id"`
	DeskNumber  string `json:"desk_number"`
	DeskName    string `json:"desk_name"`
	ServiceType string `json:"service_type"`
	Active      *bool  `json:"active"`
}

type addTicketRequest struct {
	CustomerName  string `json:"customer_name"`
	CustomerPhone string `json:"customer_phone"`
	ServiceType   string `json:"service_type"`
	Notes         string `json:"notes"`
	IsPriority    bool   `json:"is_priority"`
}

func NewHandler(options Options) *Handler {
	return &Handler{
		auth:      options.Auth,
		queue:     options.Queue,
		dashboard: options.Dashboard,
		directory: options.Directory,
		health:    options.Health,
		limiter:   options.Limiter,
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/auth/login", h.handleLogin)
	mux.HandleFunc("/api/auth/logout", h.handleLogout)
	mux.HandleFunc("/api/auth/me", h.handleMe)
	mux.HandleFunc("/api/dashboard", h.handleDashboard)
	mux.HandleFunc("/api/locations", h.handleLocations)
	mux.HandleFunc("/api/desks", h.handleDesks)
	mux.HandleFunc("/api/desks/", h.handleDeskRoutes)
	mux.HandleFunc("/api/tickets/", h.handleTicketRoutes)
	var next http.Handler = mux
	if h.limiter != nil {
		next = h.limiter.ActorMiddleware(mux)
	}
	return AuthMiddleware(h.auth, next)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.health.Ping(ctx); err != nil {
			writeError(w, requestIDFromRequest(r), http.StatusServiceUnavailable, "unavailable", "database unavailable")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req loginRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "username and password are required")
		return
	}

	result, err := h.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, store.ErrLocationInactive) {
			writeError(w, requestIDFromRequest(r), http.StatusForbidden, "location_inactive", "location is inactive")
			return
		}
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		SessionID: result.Session.SessionID,
		ExpiresAt: result.Session.ExpiresAt.UTC().Format(time.RFC3339),
		User:      result.Actor,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := h.auth.Logout(r.Context(), sessionIDFromRequest(r)); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, actor)
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	summary, err := h.dashboard.Summary(r.Context(), actor)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleLocations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	locations, err := h.directory.AccessibleLocations(r.Context(), actor)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, locations)
}

func (h *Handler) handleDesks(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		desks, err := h.directory.ListDesks(r.Context(), actor)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, desks)
	case http.MethodPost:
		var req createDeskRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		desk, err := h.directory.CreateDesk(r.Context(), actor, store.CreateDeskInput{
			LocationID:  req.LocationID,
			DeskNumber:  req.DeskNumber,
			DeskName:    req.DeskName,
			ServiceType: req.ServiceType,
			Active:      req.Active == nil || *req.Active,
		})
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, desk)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleDeskRoutes serves /api/desks/{id}[/tickets|/snapshot|/export].
func (h *Handler) handleDeskRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/desks/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || len(parts) > 2 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	deskID := parts[0]
	if !isValidUUID(deskID) {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "desk_id must be a UUID")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			h.handleDeskDetail(w, r, actor, deskID)
		case http.MethodDelete:
			if err := h.directory.DeleteDesk(r.Context(), actor, deskID); err != nil {
				respondError(w, r, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	switch parts[1] {
	case "tickets":
		switch r.Method {
		case http.MethodGet:
			h.handleWaitingLine(w, r, actor, deskID)
		case http.MethodPost:
			h.handleAddTicket(w, r, actor, deskID)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case "snapshot":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		snapshot, err := h.queue.Snapshot(r.Context(), actor, deskID)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, snapshot)
	case "export":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleExport(w, r, actor, deskID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleDeskDetail(w http.ResponseWriter, r *http.Request, actor models.Actor, deskID string) {
	detail, err := h.dashboard.DeskDetail(r.Context(), actor, deskID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *Handler) handleWaitingLine(w http.ResponseWriter, r *http.Request, actor models.Actor, deskID string) {
	tickets, err := h.queue.WaitingLine(r.Context(), actor, deskID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if tickets == nil {
		tickets = []models.Ticket{}
	}
	writeJSON(w, http.StatusOK, tickets)
}

func (h *Handler) handleAddTicket(w http.ResponseWriter, r *http.Request, actor models.Actor, deskID string) {
	var req addTicketRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	ticket, err := h.queue.AddTicket(r.Context(), actor, deskID, queue.AddTicketInput{
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
		ServiceType:   req.ServiceType,
		Notes:         req.Notes,
		IsPriority:    req.IsPriority,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ticket)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request, actor models.Actor, deskID string) {
	day := strings.TrimSpace(r.URL.Query().Get("day"))
	data, err := h.dashboard.ExportDesk(r.Context(), actor, deskID, day)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if day == "" {
		day = "today"
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=desk-%s-%s.xlsx", deskID, day))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleTicketRoutes serves /api/tickets/{id}, /events and /actions/{action}.
func (h *Handler) handleTicketRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/tickets/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	ticketID := parts[0]
	if !isValidUUID(ticketID) {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "ticket_id must be a UUID")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		ticket, err := h.queue.GetTicket(r.Context(), actor, ticketID)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ticket)
	case len(parts) == 2 && parts[1] == "events":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		events, err := h.queue.TicketHistory(r.Context(), actor, ticketID)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, events)
	case len(parts) == 3 && parts[1] == "actions":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleTicketAction(w, r, actor, ticketID, parts[2])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleTicketAction(w http.ResponseWriter, r *http.Request, actor models.Actor, ticketID, action string) {
	var op func(context.Context, models.Actor, string) (models.Ticket, error)
	switch action {
	case "call":
		op = h.queue.CallTicket
	case "announce":
		op = h.queue.Call
	case "start":
		op = h.queue.StartServing
	case "complete":
		op = h.queue.Complete
	case "cancel":
		op = h.queue.Cancel
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}

	ticket, err := op(r.Context(), actor, ticketID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func decodeRequest(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := mapError(err)
	if status == http.StatusInternalServerError {
		loggerFromRequest(r).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeError(w, requestIDFromRequest(r), status, code, msg)
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrAccessDenied):
		return http.StatusForbidden, "access_denied", "access denied"
	case errors.Is(err, store.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials", "invalid credentials"
	case errors.Is(err, store.ErrSessionNotFound):
		return http.StatusUnauthorized, "unauthorized", "invalid session"
	case errors.Is(err, store.ErrAccountInactive):
		return http.StatusForbidden, "account_inactive", "account is inactive"
	case errors.Is(err, store.ErrLocationUnassigned):
		return http.StatusForbidden, "location_unassigned", "account has no location"
	case errors.Is(err, store.ErrLocationInactive):
		return http.StatusConflict, "location_inactive", "location is inactive"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "ticket state does not allow this action"
	case errors.Is(err, store.ErrDeskInactive):
		return http.StatusConflict, "desk_inactive", "desk is inactive"
	case errors.Is(err, store.ErrDeskNumberTaken):
		return http.StatusConflict, "desk_number_taken", "desk number already used at this location"
	case errors.Is(err, store.ErrDeskHasActiveTickets):
		return http.StatusConflict, "desk_has_active_tickets", "desk still has waiting or in-progress tickets"
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, store.ErrDeskNotFound):
		return http.StatusNotFound, "desk_not_found", "desk not found"
	case errors.Is(err, store.ErrLocationNotFound):
		return http.StatusNotFound, "location_not_found", "location not found"
	case errors.Is(err, store.ErrUserNotFound):
		return http.StatusNotFound, "user_not_found", "user not found"
	case errors.Is(err, store.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_request", err.Error()
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
