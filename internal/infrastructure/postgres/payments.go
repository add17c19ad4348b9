package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/payment"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type PaymentRepository struct {
	db *pgxpool.Pool
}

func NewPaymentRepository(db *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{db: db}
}

var _ domain.Repository = (*PaymentRepository)(nil)

const paymentColumns = `id, buyer_id, order_id, method, transaction_id, external_payment_id, amount, currency,
	status, refund_id, refund_amount, refund_reason, refunded_at, created_at, updated_at`

func (r *PaymentRepository) Insert(ctx context.Context, p *domain.Payment) error {
	refundID, refundAmount, refundReason, refundedAt := refundColumns(p.Refund)
	_, err := r.db.Exec(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		p.ID, p.BuyerID, p.OrderID, string(p.Method), p.TransactionID, p.ExternalPaymentID, p.Amount, p.Currency,
		string(p.Status), refundID, refundAmount, refundReason, refundedAt, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return fmt.Errorf("payment repository: insert %s: %w", p.ID, err)
	}
	return nil
}

func (r *PaymentRepository) Get(ctx context.Context, id string) (*domain.Payment, error) {
	var (
		p            domain.Payment
		method       string
		status       string
		refundID     *string
		refundAmount decimal.NullDecimal
		refundReason *string
		refundedAt   *time.Time
	)
	err := r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id).Scan(
		&p.ID, &p.BuyerID, &p.OrderID, &method, &p.TransactionID, &p.ExternalPaymentID, &p.Amount, &p.Currency,
		&status, &refundID, &refundAmount, &refundReason, &refundedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("payment repository: select %s: %w", id, err)
	}
	p.Method = domain.Method(method)
	p.Status = domain.Status(status)
	if refundID != nil {
		p.Refund = &domain.Refund{ID: *refundID, Amount: refundAmount.Decimal}
		if refundReason != nil {
			p.Refund.Reason = *refundReason
		}
		if refundedAt != nil {
			p.Refund.RefundedAt = refundedAt.UTC()
		}
	}
	return &p, nil
}

func (r *PaymentRepository) Update(ctx context.Context, p *domain.Payment) error {
	refundID, refundAmount, refundReason, refundedAt := refundColumns(p.Refund)
	tag, err := r.db.Exec(ctx, `
		UPDATE payments
		SET external_payment_id = $2, status = $3, refund_id = $4, refund_amount = $5,
			refund_reason = $6, refunded_at = $7, updated_at = $8
		WHERE id = $1`,
		p.ID, p.ExternalPaymentID, string(p.Status), refundID, refundAmount, refundReason, refundedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("payment repository: update %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func refundColumns(r *domain.Refund) (id *string, amount decimal.NullDecimal, reason *string, at *time.Time) {
	if r == nil {
		return nil, decimal.NullDecimal{}, nil, nil
	}
	refundedAt := r.RefundedAt
	return &r.ID, decimal.NewNullDecimal(r.Amount), &r.Reason, &refundedAt
}
