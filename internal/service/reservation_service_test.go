package service

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"rezerv/internal/database"
	"rezerv/internal/events"
	"rezerv/internal/models"
)

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) SyncResources(ctx context.Context, resources []models.Resource) error {
	return m.Called(ctx, resources).Error(0)
}
func (m *mockRepo) GetResource(ctx context.Context, id int64) (*models.Resource, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Resource), args.Error(1)
}
func (m *mockRepo) GetResources() []models.Resource {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]models.Resource)
}
func (m *mockRepo) HasConflict(ctx context.Context, resourceID int64, interval models.Interval, excludeID int64) (bool, error) {
	args := m.Called(ctx, resourceID, interval, excludeID)
	return args.Bool(0), args.Error(1)
}
func (m *mockRepo) CreateReservationWithLock(ctx context.Context, r *models.Reservation) error {
	return m.Called(ctx, r).Error(0)
}
func (m *mockRepo) GetReservation(ctx context.Context, id int64) (*models.Reservation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Reservation), args.Error(1)
}
func (m *mockRepo) GetReservationByReference(ctx context.Context, ref string) (*models.Reservation, error) {
	args := m.Called(ctx, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Reservation), args.Error(1)
}
func (m *mockRepo) UpdateReservationStatusWithVersion(ctx context.Context, id, v int64, s string) error {
	return m.Called(ctx, id, v, s).Error(0)
}
func (m *mockRepo) UpdateStatusAndPaymentWithVersion(ctx context.Context, id, v int64, s, ps string) error {
	return m.Called(ctx, id, v, s, ps).Error(0)
}
func (m *mockRepo) GetCustomerReservations(ctx context.Context, customerID int64) ([]*models.Reservation, error) {
	args := m.Called(ctx, customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Reservation), args.Error(1)
}
func (m *mockRepo) GetOwnerReservations(ctx context.Context, ownerKind string, ownerID int64, from, to time.Time) ([]*models.Reservation, error) {
	args := m.Called(ctx, ownerKind, ownerID, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Reservation), args.Error(1)
}
func (m *mockRepo) GetElapsedConfirmed(ctx context.Context, now time.Time) ([]*models.Reservation, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Reservation), args.Error(1)
}

type mockEventBus struct {
	mock.Mock
}

func (m *mockEventBus) PublishJSON(et string, p interface{}) error { return m.Called(et, p).Error(0) }

type mockEnqueuer struct {
	mock.Mock
}

func (m *mockEnqueuer) EnqueueNotification(ctx context.Context, taskType string, r *models.Reservation) error {
	return m.Called(ctx, taskType, r).Error(0)
}

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestService() (*ReservationService, *mockRepo, *mockEventBus, *mockEnqueuer) {
	repo := new(mockRepo)
	bus := new(mockEventBus)
	enq := new(mockEnqueuer)
	logger := zerolog.New(io.Discard)
	svc := NewReservationService(repo, bus, enq, 24*time.Hour, 50, &logger)
	svc.now = func() time.Time { return testNow }
	return svc, repo, bus, enq
}

func room(id int64) *models.Resource {
	return &models.Resource{ID: id, OwnerID: 100, OwnerKind: models.OwnerHotel, Kind: models.KindRoom, Name: "Room", Capacity: 2, Rate: 100, IsActive: true}
}

func table(id int64) *models.Resource {
	return &models.Resource{ID: id, OwnerID: 200, OwnerKind: models.OwnerRestaurant, Kind: models.KindTable, Name: "Table", Capacity: 4, IsActive: true}
}

func TestCreateRoomReservation(t *testing.T) {
	ctx := context.Background()

	t.Run("two nights at nightly rate", func(t *testing.T) {
		svc, repo, bus, enq := newTestService()
		start := testNow.AddDate(0, 0, 10)
		req := &models.ReservationRequest{ResourceID: 1, CustomerID: 7, StartAt: start, EndAt: start.AddDate(0, 0, 2), GuestCount: 2, GuestName: "Anna", GuestPhone: "+7900"}

		repo.On("GetResource", ctx, int64(1)).Return(room(1), nil).Once()
		repo.On("CreateReservationWithLock", ctx, mock.AnythingOfType("*models.Reservation")).Return(nil).Once()
		bus.On("PublishJSON", events.EventReservationChanged, mock.MatchedBy(func(p interface{}) bool {
			payload, ok := p.(events.ReservationEventPayload)
			return ok && payload.EventType == events.EventReservationChanged &&
				payload.Action == "created" && payload.Channel == "hotel_100"
		})).Return(nil).Once()
		enq.On("EnqueueNotification", ctx, "reservation_created", mock.Anything).Return(nil).Once()

		reservation, err := svc.CreateRoomReservation(ctx, req)
		assert.NoError(t, err)
		assert.Equal(t, models.StatusPending, reservation.Status)
		assert.Equal(t, models.PaymentPending, reservation.PaymentStatus)
		assert.Equal(t, 200.0, reservation.TotalAmount)
		assert.True(t, strings.HasPrefix(reservation.Reference, "RSV-"))
		assert.Len(t, reservation.Reference, 12)
		repo.AssertExpectations(t)
		bus.AssertExpectations(t)
		enq.AssertExpectations(t)
	})

	t.Run("conflicting interval rejected", func(t *testing.T) {
		svc, repo, bus, _ := newTestService()
		start := testNow.AddDate(0, 0, 10)
		req := &models.ReservationRequest{ResourceID: 1, CustomerID: 7, StartAt: start, EndAt: start.AddDate(0, 0, 1), GuestCount: 1}

		repo.On("GetResource", ctx, int64(1)).Return(room(1), nil).Once()
		repo.On("CreateReservationWithLock", ctx, mock.Anything).Return(database.ErrResourceUnavailable).Once()

		_, err := svc.CreateRoomReservation(ctx, req)
		assert.ErrorIs(t, err, database.ErrResourceUnavailable)
		bus.AssertNotCalled(t, "PublishJSON", mock.Anything, mock.Anything)
	})

	t.Run("guest count above capacity", func(t *testing.T) {
		svc, repo, _, _ := newTestService()
		start := testNow.AddDate(0, 0, 10)
		req := &models.ReservationRequest{ResourceID: 1, StartAt: start, EndAt: start.AddDate(0, 0, 1), GuestCount: 3}

		repo.On("GetResource", ctx, int64(1)).Return(room(1), nil).Once()

		_, err := svc.CreateRoomReservation(ctx, req)
		assert.ErrorIs(t, err, database.ErrInvalidInterval)
		repo.AssertNotCalled(t, "CreateReservationWithLock", mock.Anything, mock.Anything)
	})

	t.Run("inactive resource", func(t *testing.T) {
		svc, repo, _, _ := newTestService()
		inactive := room(1)
		inactive.IsActive = false
		start := testNow.AddDate(0, 0, 10)
		req := &models.ReservationRequest{ResourceID: 1, StartAt: start, EndAt: start.AddDate(0, 0, 1), GuestCount: 1}

		repo.On("GetResource", ctx, int64(1)).Return(inactive, nil).Once()

		_, err := svc.CreateRoomReservation(ctx, req)
		assert.ErrorIs(t, err, database.ErrResourceUnavailable)
	})

	t.Run("inverted interval", func(t *testing.T) {
		svc, repo, _, _ := newTestService()
		start := testNow.AddDate(0, 0, 10)
		req := &models.ReservationRequest{ResourceID: 1, StartAt: start, EndAt: start.AddDate(0, 0, -1), GuestCount: 1}

		_, err := svc.CreateRoomReservation(ctx, req)
		assert.ErrorIs(t, err, database.ErrInvalidInterval)
		repo.AssertNotCalled(t, "GetResource", mock.Anything, mock.Anything)
	})

	t.Run("kind mismatch", func(t *testing.T) {
		svc, repo, _, _ := newTestService()
		start := testNow.AddDate(0, 0, 10)
		req := &models.ReservationRequest{ResourceID: 2, StartAt: start, EndAt: start.AddDate(0, 0, 1), GuestCount: 1}

		repo.On("GetResource", ctx, int64(2)).Return(table(2), nil).Once()

		_, err := svc.CreateRoomReservation(ctx, req)
		assert.ErrorIs(t, err, database.ErrInvalidInterval)
	})
}

func TestCreateTableReservation(t *testing.T) {
	ctx := context.Background()
	svc, repo, bus, enq := newTestService()

	start := testNow.Add(48 * time.Hour)
	req := &models.ReservationRequest{ResourceID: 2, CustomerID: 8, StartAt: start, EndAt: start.Add(2 * time.Hour), GuestCount: 4, GuestName: "Boris"}

	repo.On("GetResource", ctx, int64(2)).Return(table(2), nil).Once()
	repo.On("CreateReservationWithLock", ctx, mock.AnythingOfType("*models.Reservation")).Return(nil).Once()
	bus.On("PublishJSON", mock.Anything, mock.Anything).Return(nil).Once()
	enq.On("EnqueueNotification", ctx, "reservation_created", mock.Anything).Return(nil).Once()

	reservation, err := svc.CreateTableReservation(ctx, req)
	assert.NoError(t, err)
	assert.Equal(t, 50.0, reservation.TotalAmount)
	repo.AssertExpectations(t)
}

func TestCancelReservation(t *testing.T) {
	ctx := context.Background()

	confirmedRoom := func(startIn time.Duration) *models.Reservation {
		return &models.Reservation{ID: 5, ResourceID: 1, CustomerID: 7, StartAt: testNow.Add(startIn), EndAt: testNow.Add(startIn + 48*time.Hour), Status: models.StatusConfirmed, PaymentStatus: models.PaymentCompleted, Version: 3}
	}

	t.Run("room outside lead window", func(t *testing.T) {
		svc, repo, bus, enq := newTestService()
		reservation := confirmedRoom(25 * time.Hour)
		cancelled := *reservation
		cancelled.Status = models.StatusCancelled

		repo.On("GetReservation", ctx, int64(5)).Return(reservation, nil).Once()
		repo.On("GetResource", ctx, int64(1)).Return(room(1), nil).Once()
		repo.On("UpdateReservationStatusWithVersion", ctx, int64(5), int64(3), models.StatusCancelled).Return(nil).Once()
		repo.On("GetReservation", ctx, int64(5)).Return(&cancelled, nil).Once()
		bus.On("PublishJSON", mock.Anything, mock.Anything).Return(nil).Once()
		enq.On("EnqueueNotification", ctx, "reservation_cancelled", mock.Anything).Return(nil).Once()

		err := svc.CancelReservation(ctx, 5, 3, 7)
		assert.NoError(t, err)
		repo.AssertExpectations(t)
	})

	t.Run("room inside lead window", func(t *testing.T) {
		svc, repo, _, _ := newTestService()
		reservation := confirmedRoom(23 * time.Hour)

		repo.On("GetReservation", ctx, int64(5)).Return(reservation, nil).Once()
		repo.On("GetResource", ctx, int64(1)).Return(room(1), nil).Once()

		err := svc.CancelReservation(ctx, 5, 3, 7)
		assert.ErrorIs(t, err, database.ErrInvalidTransition)
		repo.AssertNotCalled(t, "UpdateReservationStatusWithVersion", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("table inside lead window is allowed", func(t *testing.T) {
		svc, repo, bus, enq := newTestService()
		reservation := &models.Reservation{ID: 6, ResourceID: 2, CustomerID: 8, StartAt: testNow.Add(2 * time.Hour), EndAt: testNow.Add(4 * time.Hour), Status: models.StatusPending, Version: 1}
		cancelled := *reservation
		cancelled.Status = models.StatusCancelled

		repo.On("GetReservation", ctx, int64(6)).Return(reservation, nil).Once()
		repo.On("GetResource", ctx, int64(2)).Return(table(2), nil).Once()
		repo.On("UpdateReservationStatusWithVersion", ctx, int64(6), int64(1), models.StatusCancelled).Return(nil).Once()
		repo.On("GetReservation", ctx, int64(6)).Return(&cancelled, nil).Once()
		bus.On("PublishJSON", mock.Anything, mock.Anything).Return(nil).Once()
		enq.On("EnqueueNotification", ctx, "reservation_cancelled", mock.Anything).Return(nil).Once()

		err := svc.CancelReservation(ctx, 6, 1, 8)
		assert.NoError(t, err)
		repo.AssertExpectations(t)
	})

	t.Run("terminal status absorbs", func(t *testing.T) {
		svc, repo, _, _ := newTestService()
		reservation := confirmedRoom(100 * time.Hour)
		reservation.Status = models.StatusCompleted

		repo.On("GetReservation", ctx, int64(5)).Return(reservation, nil).Once()

		err := svc.CancelReservation(ctx, 5, 3, 7)
		assert.ErrorIs(t, err, database.ErrInvalidTransition)
	})

	t.Run("foreign customer cannot cancel", func(t *testing.T) {
		svc, repo, _, _ := newTestService()
		reservation := confirmedRoom(100 * time.Hour)

		repo.On("GetReservation", ctx, int64(5)).Return(reservation, nil).Once()

		err := svc.CancelReservation(ctx, 5, 3, 999)
		assert.ErrorIs(t, err, database.ErrNotFound)
	})
}

func TestCompleteReservation(t *testing.T) {
	ctx := context.Background()

	t.Run("confirmed completes", func(t *testing.T) {
		svc, repo, bus, _ := newTestService()
		reservation := &models.Reservation{ID: 9, ResourceID: 1, Status: models.StatusConfirmed, Version: 2}
		completed := *reservation
		completed.Status = models.StatusCompleted

		repo.On("GetReservation", ctx, int64(9)).Return(reservation, nil).Once()
		repo.On("UpdateReservationStatusWithVersion", ctx, int64(9), int64(2), models.StatusCompleted).Return(nil).Once()
		repo.On("GetResource", ctx, int64(1)).Return(room(1), nil).Once()
		repo.On("GetReservation", ctx, int64(9)).Return(&completed, nil).Once()
		bus.On("PublishJSON", mock.Anything, mock.Anything).Return(nil).Once()

		err := svc.CompleteReservation(ctx, 9, 2)
		assert.NoError(t, err)
		repo.AssertExpectations(t)
	})

	t.Run("pending cannot complete", func(t *testing.T) {
		svc, repo, _, _ := newTestService()
		reservation := &models.Reservation{ID: 9, Status: models.StatusPending, Version: 1}

		repo.On("GetReservation", ctx, int64(9)).Return(reservation, nil).Once()

		err := svc.CompleteReservation(ctx, 9, 1)
		assert.ErrorIs(t, err, database.ErrInvalidTransition)
	})
}

func TestPaymentCallbacks(t *testing.T) {
	ctx := context.Background()

	pending := func() *models.Reservation {
		return &models.Reservation{ID: 11, Reference: "RSV-AAAA1111", ResourceID: 1, Status: models.StatusPending, PaymentStatus: models.PaymentPending, Version: 1}
	}

	t.Run("completed confirms and broadcasts once", func(t *testing.T) {
		svc, repo, bus, enq := newTestService()
		reservation := pending()
		confirmed := *reservation
		confirmed.Status = models.StatusConfirmed
		confirmed.PaymentStatus = models.PaymentCompleted

		repo.On("GetReservationByReference", ctx, "RSV-AAAA1111").Return(reservation, nil).Once()
		repo.On("UpdateStatusAndPaymentWithVersion", ctx, int64(11), int64(1), models.StatusConfirmed, models.PaymentCompleted).Return(nil).Once()
		repo.On("GetResource", ctx, int64(1)).Return(room(1), nil).Once()
		repo.On("GetReservation", ctx, int64(11)).Return(&confirmed, nil).Once()
		bus.On("PublishJSON", mock.Anything, mock.Anything).Return(nil).Once()
		enq.On("EnqueueNotification", ctx, "reservation_confirmed", mock.Anything).Return(nil).Once()

		err := svc.OnPaymentCompleted(ctx, "RSV-AAAA1111")
		assert.NoError(t, err)
		repo.AssertExpectations(t)
		bus.AssertExpectations(t)
	})

	t.Run("replayed callback is a no-op", func(t *testing.T) {
		svc, repo, bus, _ := newTestService()
		confirmed := pending()
		confirmed.Status = models.StatusConfirmed
		confirmed.PaymentStatus = models.PaymentCompleted

		repo.On("GetReservationByReference", ctx, "RSV-AAAA1111").Return(confirmed, nil).Once()

		err := svc.OnPaymentCompleted(ctx, "RSV-AAAA1111")
		assert.NoError(t, err)
		repo.AssertNotCalled(t, "UpdateStatusAndPaymentWithVersion", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		bus.AssertNotCalled(t, "PublishJSON", mock.Anything, mock.Anything)
	})

	t.Run("completed after cancellation rejected", func(t *testing.T) {
		svc, repo, _, _ := newTestService()
		reservation := pending()
		reservation.Status = models.StatusCancelled

		repo.On("GetReservationByReference", ctx, "RSV-AAAA1111").Return(reservation, nil).Once()

		err := svc.OnPaymentCompleted(ctx, "RSV-AAAA1111")
		assert.ErrorIs(t, err, database.ErrInvalidTransition)
	})

	t.Run("failed keeps reservation pending", func(t *testing.T) {
		svc, repo, bus, _ := newTestService()
		reservation := pending()

		repo.On("GetReservationByReference", ctx, "RSV-AAAA1111").Return(reservation, nil).Once()
		repo.On("UpdateStatusAndPaymentWithVersion", ctx, int64(11), int64(1), models.StatusPending, models.PaymentFailed).Return(nil).Once()

		err := svc.OnPaymentFailed(ctx, "RSV-AAAA1111")
		assert.NoError(t, err)
		repo.AssertExpectations(t)
		bus.AssertNotCalled(t, "PublishJSON", mock.Anything, mock.Anything)
	})

	t.Run("refund cancels confirmed", func(t *testing.T) {
		svc, repo, bus, enq := newTestService()
		reservation := pending()
		reservation.Status = models.StatusConfirmed
		reservation.PaymentStatus = models.PaymentCompleted
		refunded := *reservation
		refunded.Status = models.StatusCancelled
		refunded.PaymentStatus = models.PaymentRefunded

		repo.On("GetReservationByReference", ctx, "RSV-AAAA1111").Return(reservation, nil).Once()
		repo.On("UpdateStatusAndPaymentWithVersion", ctx, int64(11), int64(1), models.StatusCancelled, models.PaymentRefunded).Return(nil).Once()
		repo.On("GetResource", ctx, int64(1)).Return(room(1), nil).Once()
		repo.On("GetReservation", ctx, int64(11)).Return(&refunded, nil).Once()
		bus.On("PublishJSON", mock.Anything, mock.Anything).Return(nil).Once()
		enq.On("EnqueueNotification", ctx, "reservation_refunded", mock.Anything).Return(nil).Once()

		err := svc.OnPaymentRefunded(ctx, "RSV-AAAA1111")
		assert.NoError(t, err)
		repo.AssertExpectations(t)
	})

	t.Run("refund after completion rejected", func(t *testing.T) {
		svc, repo, _, _ := newTestService()
		reservation := pending()
		reservation.Status = models.StatusCompleted

		repo.On("GetReservationByReference", ctx, "RSV-AAAA1111").Return(reservation, nil).Once()

		err := svc.OnPaymentRefunded(ctx, "RSV-AAAA1111")
		assert.ErrorIs(t, err, database.ErrInvalidTransition)
	})
}

func TestCompleteElapsed(t *testing.T) {
	ctx := context.Background()
	svc, repo, bus, _ := newTestService()

	first := &models.Reservation{ID: 21, ResourceID: 1, Status: models.StatusConfirmed, Version: 1}
	second := &models.Reservation{ID: 22, ResourceID: 1, Status: models.StatusConfirmed, Version: 4}
	done := *first
	done.Status = models.StatusCompleted

	repo.On("GetElapsedConfirmed", ctx, testNow).Return([]*models.Reservation{first, second}, nil).Once()
	repo.On("UpdateReservationStatusWithVersion", ctx, int64(21), int64(1), models.StatusCompleted).Return(nil).Once()
	repo.On("UpdateReservationStatusWithVersion", ctx, int64(22), int64(4), models.StatusCompleted).Return(database.ErrConcurrentModification).Once()
	repo.On("GetResource", ctx, int64(1)).Return(room(1), nil).Once()
	repo.On("GetReservation", ctx, int64(21)).Return(&done, nil).Once()
	bus.On("PublishJSON", mock.Anything, mock.Anything).Return(nil).Once()

	completed, err := svc.CompleteElapsed(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, completed)
	repo.AssertExpectations(t)
}

func TestCheckAvailability(t *testing.T) {
	ctx := context.Background()
	svc, repo, _, _ := newTestService()

	interval := models.Interval{Start: testNow, End: testNow.Add(24 * time.Hour)}

	repo.On("GetResource", ctx, int64(1)).Return(room(1), nil).Twice()
	repo.On("HasConflict", ctx, int64(1), interval, int64(0)).Return(true, nil).Once()
	repo.On("HasConflict", ctx, int64(1), interval, int64(0)).Return(false, nil).Once()

	available, err := svc.CheckAvailability(ctx, 1, interval)
	assert.NoError(t, err)
	assert.False(t, available)

	available, err = svc.CheckAvailability(ctx, 1, interval)
	assert.NoError(t, err)
	assert.True(t, available)
	repo.AssertExpectations(t)
}
