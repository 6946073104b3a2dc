package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"rezerv/internal/domain"
	"rezerv/internal/models"
)

const (
	TaskReservationCreated   = "reservation_created"
	TaskReservationConfirmed = "reservation_confirmed"
	TaskReservationCancelled = "reservation_cancelled"
	TaskReservationRefunded  = "reservation_refunded"
)

// RetryPolicy defines exponential backoff parameters for notification sends.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// NextDelay returns delay for a given attempt (1-based) with clamping.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := r.InitialDelay
	if initial <= 0 {
		initial = time.Second
	}
	factor := r.BackoffFactor
	if factor <= 0 {
		factor = 2
	}

	d := time.Duration(float64(initial) * math.Pow(factor, float64(attempt-1)))
	if r.MaxDelay > 0 && d > r.MaxDelay {
		d = r.MaxDelay
	}
	if d <= 0 {
		d = time.Second
	}
	return d
}

// NotificationTask is one guest message pending delivery. Per-transport
// flags survive requeueing, so a retry only re-attempts the failed leg.
type NotificationTask struct {
	Type          string    `json:"type"`
	ReservationID int64     `json:"reservation_id"`
	Reference     string    `json:"reference"`
	GuestName     string    `json:"guest_name"`
	GuestPhone    string    `json:"guest_phone"`
	StartAt       time.Time `json:"start_at"`
	Attempts      int       `json:"attempts"`
	SMSSent       bool      `json:"sms_sent"`
	WhatsAppSent  bool      `json:"whatsapp_sent"`
	CreatedAt     time.Time `json:"created_at"`
}

// NotificationWorker delivers reservation lifecycle messages over SMS and
// WhatsApp. Tasks go through a redis list when redis is up, with an
// in-memory channel as fallback; undeliverable tasks land in a dead-letter
// list for manual replay.
type NotificationWorker struct {
	notifier      domain.Notifier
	redis         *redis.Client
	retryPolicy   RetryPolicy
	queue         chan NotificationTask
	redisQueueKey string
	deadLetterKey string
	logger        *zerolog.Logger
}

func NewNotificationWorker(notifier domain.Notifier, redisClient *redis.Client, retry RetryPolicy, queueSize int, logger *zerolog.Logger) *NotificationWorker {
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 3
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = time.Minute
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}
	if queueSize <= 0 {
		queueSize = models.WorkerQueueSize
	}

	return &NotificationWorker{
		notifier:      notifier,
		redis:         redisClient,
		retryPolicy:   retry,
		queue:         make(chan NotificationTask, queueSize),
		redisQueueKey: "notifications:queue",
		deadLetterKey: "notifications:deadletter",
		logger:        logger,
	}
}

// EnqueueNotification implements domain.NotificationEnqueuer.
func (w *NotificationWorker) EnqueueNotification(ctx context.Context, taskType string, reservation *models.Reservation) error {
	if taskType == "" {
		return errors.New("task type is required")
	}
	if reservation == nil || reservation.ID == 0 {
		return errors.New("reservation is required")
	}

	task := NotificationTask{
		Type:          taskType,
		ReservationID: reservation.ID,
		Reference:     reservation.Reference,
		GuestName:     reservation.GuestName,
		GuestPhone:    reservation.GuestPhone,
		StartAt:       reservation.StartAt,
		CreatedAt:     time.Now(),
	}

	return w.enqueue(ctx, task)
}

func (w *NotificationWorker) enqueue(ctx context.Context, task NotificationTask) error {
	// Redis первичен ради долговечности очереди.
	if w.redis != nil {
		if err := w.pushRedis(ctx, task); err != nil {
			w.logger.Warn().Err(err).Msg("notification: redis push failed, fallback to memory queue")
		} else {
			return nil
		}
	}

	select {
	case w.queue <- task:
		return nil
	default:
		return errors.New("notification queue is full")
	}
}

// Run consumes tasks until ctx is done.
func (w *NotificationWorker) Run(ctx context.Context) {
	w.logger.Info().Msg("notification worker started")
	defer w.logger.Info().Msg("notification worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case task := <-w.queue:
			w.process(ctx, task)
		default:
			if task, ok := w.tryRedis(ctx); ok {
				w.process(ctx, task)
				continue
			}
			select {
			case <-ctx.Done():
				return
			case task := <-w.queue:
				w.process(ctx, task)
			case <-time.After(time.Second):
			}
		}
	}
}

func (w *NotificationWorker) tryRedis(ctx context.Context) (NotificationTask, bool) {
	if w.redis == nil {
		return NotificationTask{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, w.redisQueueKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			w.logger.Warn().Err(err).Msg("notification: redis BRPOP error")
		}
		return NotificationTask{}, false
	}
	if len(res) != 2 {
		return NotificationTask{}, false
	}
	var task NotificationTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.logger.Error().Err(err).Msg("notification: decode redis task")
		return NotificationTask{}, false
	}
	return task, true
}

func (w *NotificationWorker) process(ctx context.Context, task NotificationTask) {
	text, err := messageText(task)
	if err != nil {
		w.logger.Error().Err(err).Str("task", task.Type).Msg("notification: bad task")
		w.pushDeadLetter(ctx, task)
		return
	}

	var sendErr error
	if !task.SMSSent {
		if sendErr = w.notifier.SendSMS(ctx, task.GuestPhone, text); sendErr == nil {
			task.SMSSent = true
		}
	}
	if !task.WhatsAppSent {
		if err := w.notifier.SendWhatsApp(ctx, task.GuestPhone, text); err == nil {
			task.WhatsAppSent = true
		} else if sendErr == nil {
			sendErr = err
		}
	}
	if sendErr == nil {
		return
	}

	task.Attempts++
	if task.Attempts >= w.retryPolicy.MaxRetries {
		w.logger.Error().Err(sendErr).Str("reference", task.Reference).Int("attempts", task.Attempts).Msg("notification: giving up")
		w.pushDeadLetter(ctx, task)
		return
	}

	delay := w.retryPolicy.NextDelay(task.Attempts)
	w.logger.Warn().Err(sendErr).Str("reference", task.Reference).Dur("retry_in", delay).Msg("notification: send failed, will retry")
	time.AfterFunc(delay, func() {
		if err := w.enqueue(context.Background(), task); err != nil {
			w.logger.Error().Err(err).Str("reference", task.Reference).Msg("notification: requeue failed")
		}
	})
}

func messageText(task NotificationTask) (string, error) {
	when := task.StartAt.Format("02.01.2006 15:04")
	switch task.Type {
	case TaskReservationCreated:
		return fmt.Sprintf("%s, your reservation %s for %s is received and awaiting payment.", task.GuestName, task.Reference, when), nil
	case TaskReservationConfirmed:
		return fmt.Sprintf("%s, your reservation %s for %s is confirmed. See you!", task.GuestName, task.Reference, when), nil
	case TaskReservationCancelled:
		return fmt.Sprintf("%s, your reservation %s has been cancelled.", task.GuestName, task.Reference), nil
	case TaskReservationRefunded:
		return fmt.Sprintf("%s, your reservation %s has been cancelled and the payment refunded.", task.GuestName, task.Reference), nil
	default:
		return "", fmt.Errorf("unknown task type: %s", task.Type)
	}
}

func (w *NotificationWorker) pushRedis(ctx context.Context, task NotificationTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, w.redisQueueKey, data).Err()
}

func (w *NotificationWorker) pushDeadLetter(ctx context.Context, task NotificationTask) {
	if w.redis == nil {
		return
	}
	data, err := json.Marshal(task)
	if err != nil {
		w.logger.Error().Err(err).Str("reference", task.Reference).Msg("notification: encode deadletter")
		return
	}
	if err := w.redis.LPush(ctx, w.deadLetterKey, data).Err(); err != nil {
		w.logger.Error().Err(err).Str("reference", task.Reference).Msg("notification: deadletter push")
	}
}
