package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"rezerv/internal/config"
	"rezerv/internal/database"
	"rezerv/internal/domain"
	"rezerv/internal/metrics"
	"rezerv/internal/models"
	"rezerv/internal/realtime"
)

// HTTPServer exposes the reservation API and the websocket feed.
type HTTPServer struct {
	cfg     config.Config
	service domain.ReservationService
	state   domain.StateRepository
	hub     *realtime.Hub
	server  *http.Server
	auth    *HTTPAuth
	logger  *zerolog.Logger
}

func NewHTTPServer(cfg config.Config, service domain.ReservationService, state domain.StateRepository, hub *realtime.Hub, logger *zerolog.Logger) *HTTPServer {
	mux := http.NewServeMux()
	srv := &HTTPServer{cfg: cfg, service: service, state: state, hub: hub, logger: logger}
	srv.auth = NewHTTPAuth(cfg.API)

	mux.HandleFunc("POST /api/v1/reservations/rooms", srv.handleCreateRoom)
	mux.HandleFunc("POST /api/v1/reservations/tables", srv.handleCreateTable)
	mux.HandleFunc("GET /api/v1/reservations/{id}", srv.handleGetReservation)
	mux.HandleFunc("POST /api/v1/reservations/{id}/cancel", srv.handleCancel)
	mux.HandleFunc("POST /api/v1/reservations/{id}/complete", srv.handleComplete)
	mux.HandleFunc("GET /api/v1/customers/{id}/reservations", srv.handleCustomerReservations)
	mux.HandleFunc("GET /api/v1/owners/{kind}/{id}/reservations", srv.handleOwnerReservations)
	mux.HandleFunc("GET /api/v1/availability", srv.handleAvailability)
	mux.HandleFunc("POST /api/v1/payments/{reference}/{event}", srv.handlePayment)
	mux.HandleFunc("GET /api/v1/resources", srv.handleResources)
	mux.HandleFunc("GET /api/v1/export", srv.handleExport)
	mux.HandleFunc("GET /ws/{observer}", srv.handleWebsocket)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	handler := srv.loggingMiddleware(srv.auth.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.API.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return srv
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the composed handler, used by httptest.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	s.createReservation(w, r, s.service.CreateRoomReservation)
}

func (s *HTTPServer) handleCreateTable(w http.ResponseWriter, r *http.Request) {
	s.createReservation(w, r, s.service.CreateTableReservation)
}

func (s *HTTPServer) createReservation(w http.ResponseWriter, r *http.Request, create func(context.Context, *models.ReservationRequest) (*models.Reservation, error)) {
	var req models.ReservationRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ResourceID == 0 || req.CustomerID == 0 {
		writeError(w, http.StatusBadRequest, "resource_id and customer_id are required")
		return
	}

	allowed, err := s.state.CheckRateLimit(r.Context(),
		fmt.Sprintf("customer:%d", req.CustomerID),
		s.cfg.Reservation.RateLimitRequests,
		time.Duration(s.cfg.Reservation.RateLimitWindow)*time.Second)
	if err != nil {
		s.logger.Error().Err(err).Msg("rate limit check failed")
	} else if !allowed {
		writeError(w, http.StatusTooManyRequests, "too many reservation attempts")
		return
	}

	reservation, err := create(r.Context(), &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, reservation)
}

func (s *HTTPServer) handleGetReservation(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid reservation id")
		return
	}

	reservation, err := s.service.GetReservation(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reservation)
}

func (s *HTTPServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid reservation id")
		return
	}

	var body struct {
		Version    int64 `json:"version"`
		CustomerID int64 `json:"customer_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := s.service.CancelReservation(r.Context(), id, body.Version, body.CustomerID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": models.StatusCancelled})
}

func (s *HTTPServer) handleComplete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid reservation id")
		return
	}

	var body struct {
		Version int64 `json:"version"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := s.service.CompleteReservation(r.Context(), id, body.Version); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": models.StatusCompleted})
}

func (s *HTTPServer) handleCustomerReservations(w http.ResponseWriter, r *http.Request) {
	customerID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid customer id")
		return
	}

	reservations, err := s.service.GetCustomerReservations(r.Context(), customerID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reservations": reservations})
}

func (s *HTTPServer) handleOwnerReservations(w http.ResponseWriter, r *http.Request) {
	ownerKind := r.PathValue("kind")
	if ownerKind != models.OwnerHotel && ownerKind != models.OwnerRestaurant {
		writeError(w, http.StatusBadRequest, "unknown owner kind")
		return
	}
	ownerID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid owner id")
		return
	}

	from, to, err := parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	reservations, err := s.service.GetOwnerReservations(r.Context(), ownerKind, ownerID, from, to)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reservations": reservations})
}

func (s *HTTPServer) handleAvailability(w http.ResponseWriter, r *http.Request) {
	resourceID, err := strconv.ParseInt(r.URL.Query().Get("resource_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "resource_id is required")
		return
	}

	start, err := time.Parse(time.RFC3339, r.URL.Query().Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start; expected RFC3339")
		return
	}
	end, err := time.Parse(time.RFC3339, r.URL.Query().Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid end; expected RFC3339")
		return
	}

	available, err := s.service.CheckAvailability(r.Context(), resourceID, models.Interval{Start: start, End: end})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"resource_id": resourceID, "available": available})
}

func (s *HTTPServer) handlePayment(w http.ResponseWriter, r *http.Request) {
	reference := r.PathValue("reference")
	event := r.PathValue("event")

	var apply func(context.Context, string) error
	switch event {
	case "completed":
		apply = s.service.OnPaymentCompleted
	case "failed":
		apply = s.service.OnPaymentFailed
	case "refunded":
		apply = s.service.OnPaymentRefunded
	default:
		writeError(w, http.StatusNotFound, "unknown payment event")
		return
	}

	// Дедупликация повторных доставок от платёжного шлюза
	dedupKey := fmt.Sprintf("payment:%s:%s", reference, event)
	first, err := s.state.MarkProcessed(r.Context(), dedupKey, 24*time.Hour)
	if err != nil {
		s.logger.Error().Err(err).Str("reference", reference).Msg("payment dedup check failed")
	} else if !first {
		writeJSON(w, http.StatusOK, map[string]string{"status": "already processed"})
		return
	}

	if err := apply(r.Context(), reference); err != nil {
		// Неуспешное применение снимает отметку: повтор от шлюза
		// должен получить ту же ошибку, а не "already processed".
		if clearErr := s.state.ClearProcessed(r.Context(), dedupKey); clearErr != nil {
			s.logger.Error().Err(clearErr).Str("reference", reference).Msg("payment dedup clear failed")
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleResources(w http.ResponseWriter, r *http.Request) {
	resources := s.service.GetResources()
	sort.Slice(resources, func(i, j int) bool { return resources[i].ID < resources[j].ID })
	writeJSON(w, http.StatusOK, map[string]any{"resources": resources})
}

func parseRange(r *http.Request) (time.Time, time.Time, error) {
	fromStr := r.URL.Query().Get("from")
	toStr := r.URL.Query().Get("to")

	if fromStr == "" && toStr == "" {
		now := time.Now().UTC()
		return now.AddDate(0, 0, -7), now.AddDate(0, 0, 30), nil
	}

	from, err := time.Parse("2006-01-02", fromStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid from date; expected YYYY-MM-DD")
	}
	to, err := time.Parse("2006-01-02", toStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid to date; expected YYYY-MM-DD")
	}
	// Верхняя граница включает весь день
	return from, to.AddDate(0, 0, 1), nil
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Websocket забирает соединение себе, обёртка сломала бы hijack
		if strings.HasPrefix(r.URL.Path, "/ws/") {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		metrics.IncHTTP(r.URL.Path)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, database.ErrInvalidInterval):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, database.ErrResourceUnavailable),
		errors.Is(err, database.ErrInvalidTransition),
		errors.Is(err, database.ErrConcurrentModification):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
