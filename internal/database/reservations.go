package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"rezerv/internal/models"
)

const reservationColumns = `id, reference, resource_id, customer_id, start_at, end_at,
                 guest_count, guest_name, guest_phone, comment, status,
                 payment_status, total_amount, created_at, updated_at, version`

// HasConflict reports whether any blocking reservation overlaps the
// half-open interval on the resource. excludeID skips one reservation
// (pass 0 to check all). Outside CreateReservationWithLock this is a
// point-in-time answer only - the commit path re-checks inside its
// transaction.
func (db *DB) HasConflict(ctx context.Context, resourceID int64, interval models.Interval, excludeID int64) (bool, error) {
	query := `SELECT COUNT(*) FROM reservations
              WHERE resource_id = ? AND status IN (?, ?)
              AND start_at < ? AND end_at > ? AND id != ?`

	var count int
	err := db.QueryRowContext(ctx, query, resourceID,
		models.StatusPending, models.StatusConfirmed,
		interval.End.UTC().Unix(), interval.Start.UTC().Unix(), excludeID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check conflict: %w", err)
	}
	return count > 0, nil
}

// CreateReservationWithLock runs the conflict check and the insert as one
// atomic unit per resource. Evaluating the check outside this span is a
// race, not a performance concern.
func (db *DB) CreateReservationWithLock(ctx context.Context, reservation *models.Reservation) error {
	lock := db.resourceLock(reservation.ResourceID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// 1. Conflict check inside transaction
	var count int
	queryCount := `SELECT COUNT(*) FROM reservations
                   WHERE resource_id = ? AND status IN (?, ?)
                   AND start_at < ? AND end_at > ?`
	err = tx.QueryRowContext(ctx, queryCount, reservation.ResourceID,
		models.StatusPending, models.StatusConfirmed,
		reservation.EndAt.UTC().Unix(), reservation.StartAt.UTC().Unix(),
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to check conflict in tx: %w", err)
	}
	if count > 0 {
		return ErrResourceUnavailable
	}

	// 2. Insert reservation
	queryInsert := `INSERT INTO reservations (
                    reference, resource_id, customer_id, start_at, end_at,
                    guest_count, guest_name, guest_phone, comment, status,
                    payment_status, total_amount, created_at, updated_at, version
                ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now()
	result, err := tx.ExecContext(ctx, queryInsert,
		reservation.Reference,
		reservation.ResourceID,
		reservation.CustomerID,
		reservation.StartAt.UTC().Unix(),
		reservation.EndAt.UTC().Unix(),
		reservation.GuestCount,
		reservation.GuestName,
		reservation.GuestPhone,
		reservation.Comment,
		reservation.Status,
		reservation.PaymentStatus,
		reservation.TotalAmount,
		now,
		now,
		1,
	)
	if err != nil {
		return fmt.Errorf("failed to insert reservation in tx: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id in tx: %w", err)
	}
	reservation.ID = id
	reservation.CreatedAt = now
	reservation.UpdatedAt = now
	reservation.Version = 1

	return tx.Commit()
}

func (db *DB) GetReservation(ctx context.Context, id int64) (*models.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = ?`
	return db.scanReservation(db.QueryRowContext(ctx, query, id))
}

func (db *DB) GetReservationByReference(ctx context.Context, reference string) (*models.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE reference = ?`
	return db.scanReservation(db.QueryRowContext(ctx, query, reference))
}

// UpdateReservationStatusWithVersion applies a guarded status change.
// The allowed-from statuses guard the transition at the SQL level so a
// racing caller loses cleanly instead of overwriting a newer state.
func (db *DB) UpdateReservationStatusWithVersion(ctx context.Context, id, fromVersion int64, status string) error {
	query := `UPDATE reservations SET status = ?, version = version + 1, updated_at = ?
              WHERE id = ? AND version = ?`
	result, err := db.ExecContext(ctx, query, status, time.Now(), id, fromVersion)
	if err != nil {
		return fmt.Errorf("failed to update reservation status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConcurrentModification
	}
	return nil
}

// UpdateStatusAndPaymentWithVersion changes reservation and payment status in
// one statement, used for payment-driven transitions.
func (db *DB) UpdateStatusAndPaymentWithVersion(ctx context.Context, id, fromVersion int64, status, paymentStatus string) error {
	query := `UPDATE reservations SET status = ?, payment_status = ?, version = version + 1, updated_at = ?
              WHERE id = ? AND version = ?`
	result, err := db.ExecContext(ctx, query, status, paymentStatus, time.Now(), id, fromVersion)
	if err != nil {
		return fmt.Errorf("failed to update reservation payment: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConcurrentModification
	}
	return nil
}

func (db *DB) GetCustomerReservations(ctx context.Context, customerID int64) ([]*models.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations
              WHERE customer_id = ? ORDER BY created_at DESC`
	rows, err := db.QueryContext(ctx, query, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get customer reservations: %w", err)
	}
	defer rows.Close()
	return db.scanReservations(rows)
}

// GetOwnerReservations returns reservations on all resources of one owner
// whose interval starts inside [from, to].
func (db *DB) GetOwnerReservations(ctx context.Context, ownerKind string, ownerID int64, from, to time.Time) ([]*models.Reservation, error) {
	query := `SELECT ` + prefixedReservationColumns("r") + `
              FROM reservations r
              JOIN resources s ON r.resource_id = s.id
              WHERE s.owner_kind = ? AND s.owner_id = ?
              AND r.start_at >= ? AND r.start_at <= ?
              ORDER BY r.start_at ASC`
	rows, err := db.QueryContext(ctx, query, ownerKind, ownerID,
		from.UTC().Unix(), to.UTC().Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to get owner reservations: %w", err)
	}
	defer rows.Close()
	return db.scanReservations(rows)
}

// GetElapsedConfirmed returns confirmed reservations whose interval has
// fully elapsed at now - candidates for the completion sweep.
func (db *DB) GetElapsedConfirmed(ctx context.Context, now time.Time) ([]*models.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations
              WHERE status = ? AND end_at <= ? ORDER BY end_at ASC`
	rows, err := db.QueryContext(ctx, query, models.StatusConfirmed, now.UTC().Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to get elapsed reservations: %w", err)
	}
	defer rows.Close()
	return db.scanReservations(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (db *DB) scanReservation(row rowScanner) (*models.Reservation, error) {
	var r models.Reservation
	var startAt, endAt int64
	var comment sql.NullString
	err := row.Scan(
		&r.ID, &r.Reference, &r.ResourceID, &r.CustomerID, &startAt, &endAt,
		&r.GuestCount, &r.GuestName, &r.GuestPhone, &comment, &r.Status,
		&r.PaymentStatus, &r.TotalAmount, &r.CreatedAt, &r.UpdatedAt, &r.Version,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("reservation: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan reservation: %w", err)
	}
	r.StartAt = time.Unix(startAt, 0).UTC()
	r.EndAt = time.Unix(endAt, 0).UTC()
	r.Comment = comment.String
	return &r, nil
}

func (db *DB) scanReservations(rows *sql.Rows) ([]*models.Reservation, error) {
	var out []*models.Reservation
	for rows.Next() {
		r, err := db.scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func prefixedReservationColumns(alias string) string {
	return alias + `.id, ` + alias + `.reference, ` + alias + `.resource_id, ` + alias + `.customer_id, ` +
		alias + `.start_at, ` + alias + `.end_at, ` + alias + `.guest_count, ` + alias + `.guest_name, ` +
		alias + `.guest_phone, ` + alias + `.comment, ` + alias + `.status, ` + alias + `.payment_status, ` +
		alias + `.total_amount, ` + alias + `.created_at, ` + alias + `.updated_at, ` + alias + `.version`
}
