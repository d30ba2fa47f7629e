package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"qms/walkin-service/internal/auth"
	"qms/walkin-service/internal/dashboard"
	"qms/walkin-service/internal/directory"
	"qms/walkin-service/internal/models"
	"qms/walkin-service/internal/queue"
	"qms/walkin-service/internal/store"
	"qms/walkin-service/internal/store/sqlite"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type testServer struct {
	handler  http.Handler
	store    *sqlite.Store
	desk     models.Desk
	admin    string
	staff    string
	outsider string
	super    string
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	ctx := context.Background()
	st, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	home, err := st.CreateLocation(ctx, store.CreateLocationInput{Name: "UBND Phường 1", Active: true})
	require.NoError(t, err)
	away, err := st.CreateLocation(ctx, store.CreateLocationInput{Name: "UBND Phường 2", Active: true})
	require.NoError(t, err)
	closed, err := st.CreateLocation(ctx, store.CreateLocationInput{Name: "UBND Phường 3", Active: false})
	require.NoError(t, err)
	desk, err := st.CreateDesk(ctx, store.CreateDeskInput{LocationID: home.LocationID, DeskNumber: "4", DeskName: "Hộ tịch", Active: true})
	require.NoError(t, err)

	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)
	session := func(username, role string, locationID *string) string {
		user, err := st.CreateUser(ctx, store.CreateUserInput{
			Username:     username,
			Role:         role,
			LocationID:   locationID,
			Active:       true,
			PasswordHash: string(hash),
		})
		require.NoError(t, err)
		s, err := st.CreateSession(ctx, user.UserID, time.Now().Add(time.Hour))
		require.NoError(t, err)
		return s.SessionID
	}

	server := testServer{
		store:    st,
		desk:     desk,
		admin:    session("admin", models.RoleAdmin, &home.LocationID),
		staff:    session("staff", models.RoleStaff, &home.LocationID),
		outsider: session("outsider", models.RoleAdmin, &away.LocationID),
		super:    session("root", models.RoleSuperAdmin, nil),
	}
	session("closed", models.RoleAdmin, &closed.LocationID)

	engine := queue.NewEngine(st, queue.Options{Logger: zerolog.Nop()})
	dir := directory.NewService(st, zerolog.Nop())
	server.handler = LoggingMiddleware(NewHandler(Options{
		Auth:      auth.NewService(st, auth.Options{Logger: zerolog.Nop()}),
		Queue:     engine,
		Dashboard: dashboard.NewService(st, engine, dir, dashboard.Options{Logger: zerolog.Nop()}),
		Directory: dir,
		Health:    st,
	}).Routes())
	return server
}

func (s testServer) do(t *testing.T, method, path, session string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(payload))
	}
	req := httptest.NewRequest(method, path, &body)
	if session != "" {
		req.Header.Set("Authorization", "Bearer "+session)
	}
	resp := httptest.NewRecorder()
	s.handler.ServeHTTP(resp, req)
	return resp
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var out errorResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	return out
}

func TestLogin(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "admin", "password": "secret"})
	require.Equal(t, http.StatusOK, resp.Code)
	var login loginResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &login))
	assert.NotEmpty(t, login.SessionID)
	assert.Equal(t, models.RoleAdmin, login.User.Role)

	me := s.do(t, http.MethodGet, "/api/auth/me", login.SessionID, nil)
	assert.Equal(t, http.StatusOK, me.Code)

	resp = s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "admin", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Equal(t, "invalid_credentials", decodeError(t, resp).Error.Code)

	resp = s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "closed", "password": "secret"})
	assert.Equal(t, http.StatusForbidden, resp.Code)
	assert.Equal(t, "location_inactive", decodeError(t, resp).Error.Code)

	resp = s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "admin", "password": "secret", "tenant": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestLogout(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(t, http.MethodPost, "/api/auth/logout", s.staff, nil)
	assert.Equal(t, http.StatusNoContent, resp.Code)

	resp = s.do(t, http.MethodGet, "/api/auth/me", s.staff, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestUnauthorized(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(t, http.MethodGet, "/api/dashboard", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.NotEmpty(t, resp.Header().Get("X-Request-ID"))
	assert.Equal(t, resp.Header().Get("X-Request-ID"), decodeError(t, resp).RequestID)

	for _, token := range []string{"not-a-session", "' OR ''='", "0000"} {
		resp = s.do(t, http.MethodGet, "/api/dashboard", token, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.Code, token)
		assert.Equal(t, "unauthorized", decodeError(t, resp).Error.Code)
	}

	resp = s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestTicketFlow(t *testing.T) {
	s := newTestServer(t)
	ticketsPath := "/api/desks/" + s.desk.DeskID + "/tickets"

	resp := s.do(t, http.MethodPost, ticketsPath, s.admin, map[string]interface{}{
		"customer_name": "Nguyễn Văn A",
		"service_type":  "Khai sinh",
	})
	require.Equal(t, http.StatusCreated, resp.Code)
	var ticket models.Ticket
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &ticket))
	assert.Equal(t, "4001", ticket.QueueNumber)

	resp = s.do(t, http.MethodPost, ticketsPath, s.staff, map[string]interface{}{"customer_name": "B", "service_type": "x"})
	assert.Equal(t, http.StatusForbidden, resp.Code)
	assert.Equal(t, "access_denied", decodeError(t, resp).Error.Code)

	resp = s.do(t, http.MethodPost, ticketsPath, s.admin, map[string]interface{}{"customer_name": "", "service_type": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = s.do(t, http.MethodGet, ticketsPath, s.staff, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var line []models.Ticket
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &line))
	assert.Len(t, line, 1)

	actions := "/api/tickets/" + ticket.TicketID + "/actions/"
	resp = s.do(t, http.MethodPost, actions+"complete", s.outsider, nil)
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp = s.do(t, http.MethodPost, actions+"call", s.admin, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &ticket))
	assert.Equal(t, models.StatusInProgress, ticket.Status)

	resp = s.do(t, http.MethodPost, actions+"complete", s.admin, nil)
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = s.do(t, http.MethodPost, actions+"cancel", s.admin, nil)
	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Equal(t, "invalid_state", decodeError(t, resp).Error.Code)

	resp = s.do(t, http.MethodPost, actions+"teleport", s.admin, nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = s.do(t, http.MethodGet, "/api/tickets/"+ticket.TicketID+"/events", s.staff, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var events []store.TicketEvent
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &events))
	assert.Len(t, events, 3)

	resp = s.do(t, http.MethodGet, "/api/tickets/not-a-uuid", s.staff, nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestDeskRoutes(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodPost, "/api/desks", s.admin, map[string]interface{}{"desk_number": "5", "desk_name": "Chứng thực"})
	require.Equal(t, http.StatusCreated, resp.Code)
	var desk models.Desk
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &desk))
	assert.True(t, desk.Active)

	resp = s.do(t, http.MethodPost, "/api/desks", s.admin, map[string]interface{}{"desk_number": "5", "desk_name": "Khác"})
	assert.Equal(t, http.StatusConflict, resp.Code)

	resp = s.do(t, http.MethodGet, "/api/desks", s.staff, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var desks []models.Desk
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &desks))
	assert.Len(t, desks, 2)

	resp = s.do(t, http.MethodPost, "/api/desks/"+s.desk.DeskID+"/tickets", s.admin, map[string]interface{}{"customer_name": "A", "service_type": "x"})
	require.Equal(t, http.StatusCreated, resp.Code)
	resp = s.do(t, http.MethodDelete, "/api/desks/"+s.desk.DeskID, s.admin, nil)
	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Equal(t, "desk_has_active_tickets", decodeError(t, resp).Error.Code)

	resp = s.do(t, http.MethodGet, "/api/desks/"+s.desk.DeskID, s.staff, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var detail dashboard.DeskDetail
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &detail))
	assert.Equal(t, 1, detail.WaitingCount)

	resp = s.do(t, http.MethodGet, "/api/desks/"+s.desk.DeskID+"/snapshot", s.outsider, nil)
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp = s.do(t, http.MethodGet, "/api/desks/"+s.desk.DeskID+"/export", s.staff, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Header().Get("Content-Type"), "spreadsheetml")
	assert.NotZero(t, resp.Body.Len())

	resp = s.do(t, http.MethodGet, "/api/desks/"+s.desk.DeskID+"/export?day=yesterday", s.staff, nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = s.do(t, http.MethodDelete, "/api/desks/"+desk.DeskID, s.admin, nil)
	assert.Equal(t, http.StatusNoContent, resp.Code)

	for _, locationID := range []string{"not-a-uuid", "1; DROP TABLE desks"} {
		resp = s.do(t, http.MethodPost, "/api/desks", s.super, map[string]interface{}{"location_id": locationID, "desk_number": "9", "desk_name": "x"})
		assert.Equal(t, http.StatusNotFound, resp.Code, locationID)
		assert.Equal(t, "location_not_found", decodeError(t, resp).Error.Code)
	}
}

func TestDashboardAndLocations(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodGet, "/api/dashboard", s.staff, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var summary dashboard.Summary
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &summary))
	assert.Len(t, summary.Locations, 1)

	resp = s.do(t, http.MethodGet, "/api/locations", s.staff, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var locations []models.Location
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &locations))
	assert.Len(t, locations, 1)
}

func TestMapError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{store.ErrAccessDenied, http.StatusForbidden, "access_denied"},
		{store.ErrLocationInactive, http.StatusConflict, "location_inactive"},
		{store.ErrLocationUnassigned, http.StatusForbidden, "location_unassigned"},
		{store.ErrAccountInactive, http.StatusForbidden, "account_inactive"},
		{store.ErrTicketNotFound, http.StatusNotFound, "ticket_not_found"},
		{store.ErrDeskInactive, http.StatusConflict, "desk_inactive"},
		{store.ErrSessionNotFound, http.StatusUnauthorized, "unauthorized"},
		{context.DeadlineExceeded, http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range tests {
		status, code, _ := mapError(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.code, code, tc.err.Error())
	}
}
