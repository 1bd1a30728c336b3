package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"rideflow/internal/domain"
	"rideflow/internal/repository"
)

const paymentColumns = `id, ride_id, amount, currency, method, status, breakdown,
	failure_reason, idempotency_key, created_at, updated_at`

// PaymentRepository is a PostgreSQL implementation of repository.PaymentRepository.
type PaymentRepository struct {
	q Querier
}

// NewPaymentRepository creates a new PostgreSQL payment repository.
func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{q: db}
}

// NewPaymentRepositoryWithTx creates a payment repository using a transaction.
func NewPaymentRepositoryWithTx(tx *sql.Tx) *PaymentRepository {
	return &PaymentRepository{q: tx}
}

// Create persists a new payment. The UNIQUE constraint on ride_id turns a
// second payment for the same ride into ErrConflict.
func (r *PaymentRepository) Create(ctx context.Context, payment *domain.PaymentRecord) error {
	query := `
		INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	breakdown, err := marshalNullable(payment.Breakdown)
	if err != nil {
		return fmt.Errorf("failed to encode fare breakdown: %w", err)
	}

	_, err = r.q.ExecContext(ctx, query,
		payment.ID,
		payment.RideID,
		payment.Amount.Amount,
		payment.Amount.Currency,
		payment.Method,
		payment.Status,
		breakdown,
		payment.FailureReason,
		payment.IdempotencyKey,
		payment.CreatedAt,
		payment.UpdatedAt,
	)
	return mapWriteError(err)
}

// GetByID retrieves a payment by ID.
func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*domain.PaymentRecord, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`

	payment, err := scanPayment(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return payment, nil
}

// GetByRideID retrieves the payment of a ride.
// Returns nil if the ride has no payment.
func (r *PaymentRepository) GetByRideID(ctx context.Context, rideID string) (*domain.PaymentRecord, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE ride_id = $1`

	payment, err := scanPayment(r.q.QueryRowContext(ctx, query, rideID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return payment, nil
}

// UpdateStatus updates the status and failure reason of a payment.
func (r *PaymentRepository) UpdateStatus(ctx context.Context, id string, status domain.PaymentStatus, reason string) error {
	query := `UPDATE payments SET status = $1, failure_reason = $2, updated_at = $3 WHERE id = $4`

	result, err := r.q.ExecContext(ctx, query, status, reason, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return expectOneRow(result)
}

func scanPayment(s scanner) (*domain.PaymentRecord, error) {
	var (
		payment   domain.PaymentRecord
		amount    int64
		currency  string
		breakdown []byte
	)

	err := s.Scan(
		&payment.ID,
		&payment.RideID,
		&amount,
		&currency,
		&payment.Method,
		&payment.Status,
		&breakdown,
		&payment.FailureReason,
		&payment.IdempotencyKey,
		&payment.CreatedAt,
		&payment.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	payment.Amount = domain.NewMoney(amount, currency)
	payment.CreatedAt = payment.CreatedAt.UTC()
	payment.UpdatedAt = payment.UpdatedAt.UTC()
	if len(breakdown) > 0 {
		var b domain.FareBreakdown
		if err := json.Unmarshal(breakdown, &b); err != nil {
			return nil, fmt.Errorf("failed to decode fare breakdown: %w", err)
		}
		payment.Breakdown = &b
	}
	return &payment, nil
}

// marshalNullable encodes v as JSON. A nil pointer stays NULL.
func marshalNullable[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
