package postgres

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/shipping"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type OrderRepository struct {
	db *pgxpool.Pool
}

func NewOrderRepository(db *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{db: db}
}

var _ domain.Repository = (*OrderRepository)(nil)

func (r *OrderRepository) Insert(ctx context.Context, o *domain.Order) (err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("order repository: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (id, buyer_id, contact_name, contact_email, contact_phone, total_amount,
			status, shipping_status, shipping_address_id, payment_id, external_shipment_id,
			version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		o.ID, o.BuyerID, o.Contact.Name, o.Contact.Email, o.Contact.Phone, o.TotalAmount,
		string(o.Status), string(o.ShippingStatus), o.ShippingAddressID, o.PaymentID, o.ExternalShipmentID,
		o.Version, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return fmt.Errorf("order repository: insert %s: %w", o.ID, err)
	}
	if err = insertItems(ctx, tx, o); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("order repository: commit: %w", err)
	}
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*domain.Order, error) {
	var (
		o              domain.Order
		status         string
		shippingStatus string
	)
	err := r.db.QueryRow(ctx, `
		SELECT id, buyer_id, contact_name, contact_email, contact_phone, total_amount,
			status, shipping_status, shipping_address_id, payment_id, external_shipment_id,
			version, created_at, updated_at
		FROM orders
		WHERE id = $1`, id,
	).Scan(
		&o.ID, &o.BuyerID, &o.Contact.Name, &o.Contact.Email, &o.Contact.Phone, &o.TotalAmount,
		&status, &shippingStatus, &o.ShippingAddressID, &o.PaymentID, &o.ExternalShipmentID,
		&o.Version, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("order repository: select %s: %w", id, err)
	}
	o.Status = domain.Status(status)
	o.ShippingStatus = shipping.Status(shippingStatus)

	items, err := r.items(ctx, id)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return &o, nil
}

// Update rewrites the order and its lines in one transaction, guarded by version.
func (r *OrderRepository) Update(ctx context.Context, o *domain.Order) (err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("order repository: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	tag, err := tx.Exec(ctx, `
		UPDATE orders
		SET contact_name = $3, contact_email = $4, contact_phone = $5, total_amount = $6,
			status = $7, shipping_status = $8, shipping_address_id = $9, payment_id = $10,
			external_shipment_id = $11, updated_at = $12, version = version + 1
		WHERE id = $1 AND version = $2`,
		o.ID, o.Version, o.Contact.Name, o.Contact.Email, o.Contact.Phone, o.TotalAmount,
		string(o.Status), string(o.ShippingStatus), o.ShippingAddressID, o.PaymentID,
		o.ExternalShipmentID, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("order repository: update %s: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err = tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, o.ID).Scan(&exists); err != nil {
			return fmt.Errorf("order repository: update %s: %w", o.ID, err)
		}
		if !exists {
			return domain.ErrNotFound
		}
		return domain.ErrConflict
	}

	if _, err = tx.Exec(ctx, `DELETE FROM order_items WHERE order_id = $1`, o.ID); err != nil {
		return fmt.Errorf("order repository: replace items %s: %w", o.ID, err)
	}
	if err = insertItems(ctx, tx, o); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("order repository: commit: %w", err)
	}
	o.Version++
	return nil
}

func insertItems(ctx context.Context, tx pgx.Tx, o *domain.Order) error {
	batch := &pgx.Batch{}
	for i, it := range o.Items {
		kind, value := domain.DiscountNone, decimal.Zero
		if it.Discount != nil {
			kind, value = it.Discount.Kind(), it.Discount.Value()
		}
		batch.Queue(`
			INSERT INTO order_items (order_id, position, product_id, name, sku, quantity, unit_price,
				discount_kind, discount_value, tax_pct, final_unit_price, line_total,
				return_requested, exchange_requested, flagged_quantity, reason)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
			o.ID, i, it.ProductID, it.Name, it.SKU, it.Quantity, it.UnitPrice,
			kind, value, it.TaxPct, it.FinalUnitPrice, it.LineTotal,
			it.ReturnRequested, it.ExchangeRequested, it.FlaggedQuantity, it.Reason,
		)
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("order repository: insert items %s: %w", o.ID, err)
	}
	return nil
}

func (r *OrderRepository) items(ctx context.Context, orderID string) ([]domain.LineItem, error) {
	rows, err := r.db.Query(ctx, `
		SELECT product_id, name, sku, quantity, unit_price, discount_kind, discount_value, tax_pct,
			final_unit_price, line_total, return_requested, exchange_requested, flagged_quantity, reason
		FROM order_items
		WHERE order_id = $1
		ORDER BY position`, orderID)
	if err != nil {
		return nil, fmt.Errorf("order repository: query items %s: %w", orderID, err)
	}
	defer rows.Close()

	var items []domain.LineItem
	for rows.Next() {
		var (
			it            domain.LineItem
			discountKind  string
			discountValue decimal.Decimal
		)
		if err := rows.Scan(
			&it.ProductID, &it.Name, &it.SKU, &it.Quantity, &it.UnitPrice, &discountKind, &discountValue, &it.TaxPct,
			&it.FinalUnitPrice, &it.LineTotal, &it.ReturnRequested, &it.ExchangeRequested, &it.FlaggedQuantity, &it.Reason,
		); err != nil {
			return nil, fmt.Errorf("order repository: scan item %s: %w", orderID, err)
		}
		it.Discount, err = domain.NewDiscount(discountKind, discountValue)
		if err != nil {
			return nil, fmt.Errorf("order repository: item %s/%s: %w", orderID, it.ProductID, err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("order repository: iterate items %s: %w", orderID, err)
	}
	return items, nil
}
