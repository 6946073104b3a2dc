package models

const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
	StatusCompleted = "completed"
)

const (
	PaymentPending   = "pending"
	PaymentCompleted = "completed"
	PaymentFailed    = "failed"
	PaymentRefunded  = "refunded"
)

const (
	KindRoom  = "room"
	KindTable = "table"
)

const (
	OwnerHotel      = "hotel"
	OwnerRestaurant = "restaurant"
)

const (
	// CancellationLeadHours минимальное время до начала брони для отмены
	CancellationLeadHours = 24

	// WorkerQueueSize размер очереди воркера уведомлений
	WorkerQueueSize = 256

	// ObserverBufferSize размер буфера исходящих событий одного наблюдателя
	ObserverBufferSize = 16

	// BroadcastSendTimeoutMs сколько ждать медленного наблюдателя перед сбросом
	BroadcastSendTimeoutMs = 500

	// DefaultRateLimitRequests количество запросов в окне для одного ключа
	DefaultRateLimitRequests = 60

	// DefaultRateLimitWindow окно ограничения частоты запросов в секундах
	DefaultRateLimitWindow = 60
)
