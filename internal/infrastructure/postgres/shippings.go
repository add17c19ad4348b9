package postgres

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/shipping"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ShippingRepository struct {
	db *pgxpool.Pool
}

func NewShippingRepository(db *pgxpool.Pool) *ShippingRepository {
	return &ShippingRepository{db: db}
}

var _ domain.Repository = (*ShippingRepository)(nil)

func (r *ShippingRepository) Insert(ctx context.Context, s *domain.Shipping) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO shippings (id, buyer_id, order_id, address, tracking_number, carrier_name, status,
			estimated_delivery, delivered_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		s.ID, s.BuyerID, s.OrderID, s.Address, s.TrackingNumber, s.CarrierName, string(s.Status),
		s.EstimatedDelivery, s.DeliveredAt, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("shipping repository: order %s already has a shipping record", s.OrderID)
		}
		return fmt.Errorf("shipping repository: insert %s: %w", s.ID, err)
	}
	return nil
}

func (r *ShippingRepository) FindByOrder(ctx context.Context, orderID string) (*domain.Shipping, error) {
	var (
		s      domain.Shipping
		status string
	)
	err := r.db.QueryRow(ctx, `
		SELECT id, buyer_id, order_id, address, tracking_number, carrier_name, status,
			estimated_delivery, delivered_at, created_at, updated_at
		FROM shippings
		WHERE order_id = $1`, orderID,
	).Scan(
		&s.ID, &s.BuyerID, &s.OrderID, &s.Address, &s.TrackingNumber, &s.CarrierName, &status,
		&s.EstimatedDelivery, &s.DeliveredAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("shipping repository: select by order %s: %w", orderID, err)
	}
	s.Status = domain.Status(status)
	return &s, nil
}

// Update never touches the address snapshot.
func (r *ShippingRepository) Update(ctx context.Context, s *domain.Shipping) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE shippings
		SET tracking_number = $2, carrier_name = $3, status = $4, estimated_delivery = $5,
			delivered_at = $6, updated_at = $7
		WHERE id = $1`,
		s.ID, s.TrackingNumber, s.CarrierName, string(s.Status), s.EstimatedDelivery, s.DeliveredAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("shipping repository: update %s: %w", s.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *ShippingRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM shippings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("shipping repository: delete %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
