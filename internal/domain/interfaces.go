package domain

import (
	"context"
	"time"

	"rezerv/internal/models"
)

type Repository interface {
	SyncResources(ctx context.Context, resources []models.Resource) error
	GetResource(ctx context.Context, id int64) (*models.Resource, error)
	GetResources() []models.Resource
	HasConflict(ctx context.Context, resourceID int64, interval models.Interval, excludeID int64) (bool, error)
	CreateReservationWithLock(ctx context.Context, reservation *models.Reservation) error
	GetReservation(ctx context.Context, id int64) (*models.Reservation, error)
	GetReservationByReference(ctx context.Context, reference string) (*models.Reservation, error)
	UpdateReservationStatusWithVersion(ctx context.Context, id, fromVersion int64, status string) error
	UpdateStatusAndPaymentWithVersion(ctx context.Context, id, fromVersion int64, status, paymentStatus string) error
	GetCustomerReservations(ctx context.Context, customerID int64) ([]*models.Reservation, error)
	GetOwnerReservations(ctx context.Context, ownerKind string, ownerID int64, from, to time.Time) ([]*models.Reservation, error)
	GetElapsedConfirmed(ctx context.Context, now time.Time) ([]*models.Reservation, error)
}

type StateRepository interface {
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	// MarkProcessed возвращает false, если ключ уже был отмечен ранее.
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// ClearProcessed снимает отметку, чтобы повтор мог пройти заново.
	ClearProcessed(ctx context.Context, key string) error
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type Notifier interface {
	SendSMS(ctx context.Context, phone, text string) error
	SendWhatsApp(ctx context.Context, phone, text string) error
}

type NotificationEnqueuer interface {
	EnqueueNotification(ctx context.Context, taskType string, reservation *models.Reservation) error
}

type ReservationService interface {
	CreateRoomReservation(ctx context.Context, req *models.ReservationRequest) (*models.Reservation, error)
	CreateTableReservation(ctx context.Context, req *models.ReservationRequest) (*models.Reservation, error)
	CancelReservation(ctx context.Context, id, version, customerID int64) error
	CompleteReservation(ctx context.Context, id, version int64) error
	OnPaymentCompleted(ctx context.Context, reference string) error
	OnPaymentFailed(ctx context.Context, reference string) error
	OnPaymentRefunded(ctx context.Context, reference string) error
	CompleteElapsed(ctx context.Context) (int, error)
	CheckAvailability(ctx context.Context, resourceID int64, interval models.Interval) (bool, error)
	GetReservation(ctx context.Context, id int64) (*models.Reservation, error)
	GetCustomerReservations(ctx context.Context, customerID int64) ([]*models.Reservation, error)
	GetOwnerReservations(ctx context.Context, ownerKind string, ownerID int64, from, to time.Time) ([]*models.Reservation, error)
	GetResources() []models.Resource
}
