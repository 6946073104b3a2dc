package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"rezerv/internal/database"
	"rezerv/internal/domain"
	"rezerv/internal/events"
	"rezerv/internal/metrics"
	"rezerv/internal/models"
)

type ReservationService struct {
	repo             domain.Repository
	eventBus         domain.EventPublisher
	notifications    domain.NotificationEnqueuer
	cancellationLead time.Duration
	tableRate        float64
	now              func() time.Time
	logger           *zerolog.Logger
}

func NewReservationService(repo domain.Repository, eventBus domain.EventPublisher, notifications domain.NotificationEnqueuer, cancellationLead time.Duration, tableRate float64, logger *zerolog.Logger) *ReservationService {
	if cancellationLead <= 0 {
		cancellationLead = models.CancellationLeadHours * time.Hour
	}
	return &ReservationService{
		repo:             repo,
		eventBus:         eventBus,
		notifications:    notifications,
		cancellationLead: cancellationLead,
		tableRate:        tableRate,
		now:              time.Now,
		logger:           logger,
	}
}

// CreateRoomReservation books a room for a date range. The total is the
// nightly rate times the number of nights of this reservation, partial
// nights rounded up.
func (s *ReservationService) CreateRoomReservation(ctx context.Context, req *models.ReservationRequest) (*models.Reservation, error) {
	return s.create(ctx, req, models.KindRoom)
}

// CreateTableReservation books a restaurant table for a time window.
func (s *ReservationService) CreateTableReservation(ctx context.Context, req *models.ReservationRequest) (*models.Reservation, error) {
	return s.create(ctx, req, models.KindTable)
}

func (s *ReservationService) create(ctx context.Context, req *models.ReservationRequest, kind string) (*models.Reservation, error) {
	interval := models.Interval{Start: req.StartAt, End: req.EndAt}
	if !interval.Valid() {
		return nil, fmt.Errorf("%w: start must precede end", database.ErrInvalidInterval)
	}

	resource, err := s.repo.GetResource(ctx, req.ResourceID)
	if err != nil {
		return nil, err
	}
	if resource.Kind != kind {
		return nil, fmt.Errorf("%w: resource %d is a %s, not a %s", database.ErrInvalidInterval, resource.ID, resource.Kind, kind)
	}
	if !resource.IsActive {
		metrics.IncReservation("rejected")
		return nil, fmt.Errorf("%w: resource %d is inactive", database.ErrResourceUnavailable, resource.ID)
	}
	if req.GuestCount < 1 || req.GuestCount > resource.Capacity {
		metrics.IncReservation("rejected")
		// Ошибка запроса, а не занятости: ресурс никто не держит
		return nil, fmt.Errorf("%w: guest count %d outside capacity %d", database.ErrInvalidInterval, req.GuestCount, resource.Capacity)
	}

	reservation := &models.Reservation{
		Reference:     newReference(),
		ResourceID:    resource.ID,
		CustomerID:    req.CustomerID,
		StartAt:       req.StartAt.UTC(),
		EndAt:         req.EndAt.UTC(),
		GuestCount:    req.GuestCount,
		GuestName:     req.GuestName,
		GuestPhone:    req.GuestPhone,
		Comment:       req.Comment,
		Status:        models.StatusPending,
		PaymentStatus: models.PaymentPending,
		TotalAmount:   s.totalAmount(resource, interval),
	}

	// Проверка конфликта и запись атомарны внутри CreateReservationWithLock.
	if err := s.repo.CreateReservationWithLock(ctx, reservation); err != nil {
		if errors.Is(err, database.ErrResourceUnavailable) {
			metrics.IncReservation("rejected")
		}
		return nil, err
	}
	metrics.IncReservation("created")

	s.publishChange(events.EventReservationChanged, resource, reservation, "created")
	s.enqueueNotification(ctx, "reservation_created", reservation)

	return reservation, nil
}

func (s *ReservationService) totalAmount(resource *models.Resource, interval models.Interval) float64 {
	switch resource.Kind {
	case models.KindRoom:
		return resource.Rate * float64(interval.Nights())
	default:
		// Столы бронируются за фиксированную плату, если она задана.
		if s.tableRate > 0 {
			return s.tableRate
		}
		return resource.Rate
	}
}

// CancelReservation moves a reservation to cancelled on behalf of the
// customer. Room reservations cannot be cancelled inside the lead window
// before check-in.
func (s *ReservationService) CancelReservation(ctx context.Context, id, version, customerID int64) error {
	reservation, err := s.repo.GetReservation(ctx, id)
	if err != nil {
		return err
	}
	if customerID != 0 && reservation.CustomerID != customerID {
		return fmt.Errorf("%w: reservation %d", database.ErrNotFound, id)
	}
	if !models.CanTransition(reservation.Status, models.StatusCancelled) {
		return fmt.Errorf("%w: %s -> %s", database.ErrInvalidTransition, reservation.Status, models.StatusCancelled)
	}

	resource, err := s.repo.GetResource(ctx, reservation.ResourceID)
	if err != nil {
		return err
	}
	if resource.Kind == models.KindRoom {
		if s.now().Add(s.cancellationLead).After(reservation.StartAt) {
			return fmt.Errorf("%w: cancellation closes %s before check-in", database.ErrInvalidTransition, s.cancellationLead)
		}
	}

	if err := s.repo.UpdateReservationStatusWithVersion(ctx, id, version, models.StatusCancelled); err != nil {
		return err
	}
	metrics.IncReservation("cancelled")

	s.afterTransition(ctx, id, resource, "cancelled", "reservation_cancelled")
	return nil
}

// CompleteReservation marks a confirmed reservation as completed.
func (s *ReservationService) CompleteReservation(ctx context.Context, id, version int64) error {
	reservation, err := s.repo.GetReservation(ctx, id)
	if err != nil {
		return err
	}
	if !models.CanTransition(reservation.Status, models.StatusCompleted) {
		return fmt.Errorf("%w: %s -> %s", database.ErrInvalidTransition, reservation.Status, models.StatusCompleted)
	}

	if err := s.repo.UpdateReservationStatusWithVersion(ctx, id, version, models.StatusCompleted); err != nil {
		return err
	}
	metrics.IncReservation("completed")

	resource, err := s.repo.GetResource(ctx, reservation.ResourceID)
	if err != nil {
		s.logger.Error().Err(err).Int64("reservation_id", id).Msg("resource lookup after completion")
		return nil
	}
	s.afterTransition(ctx, id, resource, "completed", "")
	return nil
}

// OnPaymentCompleted confirms the reservation after a successful payment
// callback. Re-delivery of the same callback is a no-op: no state change
// and no second broadcast.
func (s *ReservationService) OnPaymentCompleted(ctx context.Context, reference string) error {
	reservation, err := s.repo.GetReservationByReference(ctx, reference)
	if err != nil {
		return err
	}
	if reservation.Status == models.StatusConfirmed && reservation.PaymentStatus == models.PaymentCompleted {
		s.logger.Debug().Str("reference", reference).Msg("payment callback replay, ignoring")
		return nil
	}
	if !models.CanTransition(reservation.Status, models.StatusConfirmed) {
		return fmt.Errorf("%w: %s -> %s", database.ErrInvalidTransition, reservation.Status, models.StatusConfirmed)
	}

	if err := s.repo.UpdateStatusAndPaymentWithVersion(ctx, reservation.ID, reservation.Version, models.StatusConfirmed, models.PaymentCompleted); err != nil {
		return err
	}
	metrics.IncReservation("confirmed")

	resource, err := s.repo.GetResource(ctx, reservation.ResourceID)
	if err != nil {
		s.logger.Error().Err(err).Str("reference", reference).Msg("resource lookup after payment")
		return nil
	}
	s.afterTransition(ctx, reservation.ID, resource, "confirmed", "reservation_confirmed")
	return nil
}

// OnPaymentFailed records a failed payment attempt. The reservation stays
// pending so the customer can retry.
func (s *ReservationService) OnPaymentFailed(ctx context.Context, reference string) error {
	reservation, err := s.repo.GetReservationByReference(ctx, reference)
	if err != nil {
		return err
	}
	if models.IsTerminal(reservation.Status) {
		return fmt.Errorf("%w: reservation is %s", database.ErrInvalidTransition, reservation.Status)
	}
	if reservation.PaymentStatus == models.PaymentFailed {
		return nil
	}

	return s.repo.UpdateStatusAndPaymentWithVersion(ctx, reservation.ID, reservation.Version, reservation.Status, models.PaymentFailed)
}

// OnPaymentRefunded cancels the reservation and marks the payment refunded.
// Completed stays are never refunded through this path.
func (s *ReservationService) OnPaymentRefunded(ctx context.Context, reference string) error {
	reservation, err := s.repo.GetReservationByReference(ctx, reference)
	if err != nil {
		return err
	}
	if reservation.Status == models.StatusCancelled && reservation.PaymentStatus == models.PaymentRefunded {
		return nil
	}
	if !models.CanTransition(reservation.Status, models.StatusCancelled) {
		return fmt.Errorf("%w: %s -> %s", database.ErrInvalidTransition, reservation.Status, models.StatusCancelled)
	}

	if err := s.repo.UpdateStatusAndPaymentWithVersion(ctx, reservation.ID, reservation.Version, models.StatusCancelled, models.PaymentRefunded); err != nil {
		return err
	}
	metrics.IncReservation("refunded")

	resource, err := s.repo.GetResource(ctx, reservation.ResourceID)
	if err != nil {
		s.logger.Error().Err(err).Str("reference", reference).Msg("resource lookup after refund")
		return nil
	}
	s.afterTransition(ctx, reservation.ID, resource, "refunded", "reservation_refunded")
	return nil
}

// CompleteElapsed sweeps confirmed reservations whose interval has fully
// passed and completes them. Returns how many were completed.
func (s *ReservationService) CompleteElapsed(ctx context.Context) (int, error) {
	elapsed, err := s.repo.GetElapsedConfirmed(ctx, s.now())
	if err != nil {
		return 0, err
	}

	completed := 0
	for _, reservation := range elapsed {
		err := s.repo.UpdateReservationStatusWithVersion(ctx, reservation.ID, reservation.Version, models.StatusCompleted)
		if err != nil {
			// Параллельное изменение не ошибка, заберём на следующем проходе.
			s.logger.Warn().Err(err).Int64("reservation_id", reservation.ID).Msg("sweep skip")
			continue
		}
		completed++
		metrics.IncReservation("completed")

		resource, err := s.repo.GetResource(ctx, reservation.ResourceID)
		if err != nil {
			continue
		}
		s.afterTransition(ctx, reservation.ID, resource, "completed", "")
	}
	return completed, nil
}

// CheckAvailability reports whether the interval is free on the resource.
func (s *ReservationService) CheckAvailability(ctx context.Context, resourceID int64, interval models.Interval) (bool, error) {
	if !interval.Valid() {
		return false, fmt.Errorf("%w: start must precede end", database.ErrInvalidInterval)
	}
	if _, err := s.repo.GetResource(ctx, resourceID); err != nil {
		return false, err
	}
	conflict, err := s.repo.HasConflict(ctx, resourceID, interval, 0)
	if err != nil {
		return false, err
	}
	return !conflict, nil
}

func (s *ReservationService) GetReservation(ctx context.Context, id int64) (*models.Reservation, error) {
	return s.repo.GetReservation(ctx, id)
}

func (s *ReservationService) GetCustomerReservations(ctx context.Context, customerID int64) ([]*models.Reservation, error) {
	return s.repo.GetCustomerReservations(ctx, customerID)
}

func (s *ReservationService) GetOwnerReservations(ctx context.Context, ownerKind string, ownerID int64, from, to time.Time) ([]*models.Reservation, error) {
	return s.repo.GetOwnerReservations(ctx, ownerKind, ownerID, from, to)
}

func (s *ReservationService) GetResources() []models.Resource {
	return s.repo.GetResources()
}

func (s *ReservationService) afterTransition(ctx context.Context, id int64, resource *models.Resource, action, taskType string) {
	reservation, err := s.repo.GetReservation(ctx, id)
	if err != nil {
		s.logger.Error().Err(err).Int64("reservation_id", id).Msg("reload after transition")
		return
	}
	s.publishChange(events.EventReservationChanged, resource, reservation, action)
	if taskType != "" {
		s.enqueueNotification(ctx, taskType, reservation)
	}
}

func (s *ReservationService) publishChange(busEvent string, resource *models.Resource, reservation *models.Reservation, action string) {
	if s.eventBus == nil {
		return
	}

	payload := events.ReservationEventPayload{
		Channel:       resource.Channel(),
		EventType:     busEvent,
		Action:        action,
		ReservationID: reservation.ID,
		Reference:     reservation.Reference,
		ResourceID:    reservation.ResourceID,
		Status:        reservation.Status,
		PaymentStatus: reservation.PaymentStatus,
	}

	if err := s.eventBus.PublishJSON(busEvent, payload); err != nil {
		s.logger.Error().Err(err).Str("action", action).Int64("reservation_id", reservation.ID).Msg("publish event error")
	}
}

func (s *ReservationService) enqueueNotification(ctx context.Context, taskType string, reservation *models.Reservation) {
	if s.notifications == nil {
		return
	}
	if err := s.notifications.EnqueueNotification(ctx, taskType, reservation); err != nil {
		s.logger.Error().Err(err).Int64("reservation_id", reservation.ID).Str("task", taskType).Msg("notification enqueue error")
	}
}

func newReference() string {
	return "RSV-" + strings.ToUpper(uuid.NewString()[:8])
}
