package fulfillment

import (
	"context"
	"errors"
	"strings"
	"time"

	appinventory "github.com/Zhima-Mochi/minishop-fulfillment/internal/application/inventory"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/shipping"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/observability"
	"github.com/shopspring/decimal"

	"go.opentelemetry.io/otel/attribute"
)

const (
	useCaseReturnOrder   = "order.return"
	useCaseExchangeOrder = "order.exchange"
)

type ItemsRequestInput struct {
	OrderID string
	Actor   Actor
	Reason  string
	Items   []order.ItemQuantity
}

type ItemsRequestResult struct {
	Order            *order.Order
	ReturnShipmentID string
	CarrierWarning   string
	RestockWarning   string
}

// ReturnOrder flags delivered items for return, restocks them and books the
// return pickup. A carrier failure is reported as a warning.
func (s *Service) ReturnOrder(ctx context.Context, in ItemsRequestInput) (*ItemsRequestResult, error) {
	return s.requestItems(ctx, in, true)
}

// ExchangeOrder flags delivered items for exchange and restocks them.
func (s *Service) ExchangeOrder(ctx context.Context, in ItemsRequestInput) (*ItemsRequestResult, error) {
	return s.requestItems(ctx, in, false)
}

func (s *Service) requestItems(ctx context.Context, in ItemsRequestInput, isReturn bool) (_ *ItemsRequestResult, err error) {
	useCase, spanName, kind := useCaseExchangeOrder, "ExchangeOrder", order.EventExchangeRequested
	if isReturn {
		useCase, spanName, kind = useCaseReturnOrder, "ReturnOrder", order.EventReturnRequested
	}
	ctx, run := s.begin(ctx, useCase, spanName,
		attribute.String("order.id", in.OrderID),
		attribute.Int("items", len(in.Items)),
	)
	defer func() { s.finish(ctx, run, err) }()
	run.note(observability.F("order_id", in.OrderID))

	switch {
	case in.OrderID == "":
		return nil, run.fail("ORDER_ID_REQUIRED", newValidation("order id is required"))
	case len(in.Items) == 0:
		return nil, run.fail("ITEMS_REQUIRED", newValidation("at least one item is required"))
	case strings.TrimSpace(in.Reason) == "":
		return nil, run.fail("REASON_REQUIRED", newValidation("reason is required"))
	}
	for _, it := range in.Items {
		if it.ProductID == "" || it.Quantity < 1 {
			return nil, run.fail("ITEMS_INVALID", newValidation("each item needs a product id and a quantity of at least 1"))
		}
	}

	unlock, err := s.lockOrder(ctx, in.OrderID)
	if err != nil {
		return nil, run.fail("ORDER_BUSY", err)
	}
	defer unlock()

	o, status, err := s.loadOrder(ctx, in.OrderID, in.Actor, true)
	if err != nil {
		return nil, run.fail(status, err)
	}

	now := s.now()
	if isReturn {
		err = o.RequestReturn(in.Reason, in.Items, now)
	} else {
		err = o.RequestExchange(in.Reason, in.Items, now)
	}
	if err != nil {
		status := "ITEMS_INVALID"
		if errors.Is(err, order.ErrInvalidStateTransition) {
			status = "ORDER_NOT_DELIVERED"
		}
		return nil, run.fail(status, businessRule(err))
	}
	// The version check makes a concurrent duplicate request fail here, before any restock.
	if err = s.orders.Update(ctx, o); err != nil {
		return nil, run.fail("ORDER_UPDATE_FAILED", wrapRepositoryError(err))
	}

	res := &ItemsRequestResult{Order: o}
	shipStatus := shipping.StatusExchangeRequested
	if isReturn {
		shipStatus = shipping.StatusReturnRequested
	}
	ship := s.syncShippingStatus(ctx, run, o.ID, shipStatus)

	lines := make([]appinventory.Line, 0, len(in.Items))
	for _, it := range in.Items {
		lines = append(lines, appinventory.Line{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	if rerr := s.reserver.Restock(ctx, lines); rerr != nil {
		res.RestockWarning = "items were flagged but stock could not be fully restored"
		run.note(observability.F("restock_error", rerr.Error()))
	}

	if isReturn {
		shipment, cerr := s.bookReturn(ctx, o, in, ship)
		if cerr != nil {
			res.CarrierWarning = "return recorded, but the carrier pickup could not be booked: " + cerr.Error()
			run.note(observability.F("carrier_warning", cerr.Error()))
			run.logger.Warn("carrier_return_failed", observability.Err(cerr))
		} else {
			res.ReturnShipmentID = shipment.ExternalID
		}
	}

	s.publish(ctx, run, order.ItemsRequestedEvent{
		Kind:       kind,
		OrderID:    o.ID,
		BuyerID:    o.BuyerID,
		Reason:     in.Reason,
		Items:      in.Items,
		OccurredAt: now,
	})
	return res, nil
}

func (s *Service) bookReturn(ctx context.Context, o *order.Order, in ItemsRequestInput, ship *shipping.Shipping) (shipping.Shipment, error) {
	req := shipping.ReturnRequest{
		OrderID:         "R-" + o.ID,
		OriginalOrderID: o.ID,
		Email:           o.Contact.Email,
		Reason:          in.Reason,
		Parcel:          s.policy.Parcel,
	}
	if ship != nil {
		req.PickupAddress = ship.Address
	}
	subTotal := decimal.Zero
	for _, it := range in.Items {
		for _, l := range o.Items {
			if l.ProductID != it.ProductID {
				continue
			}
			price := l.FinalUnitPrice.Round(2)
			req.Items = append(req.Items, shipping.Item{Name: l.Name, SKU: l.SKU, Units: it.Quantity, SellingPrice: price})
			subTotal = subTotal.Add(price.Mul(decimal.NewFromInt(int64(it.Quantity))))
			break
		}
	}
	req.SubTotal = subTotal

	callCtx, cancel := s.withTimeout(ctx, s.policy.CarrierTimeout)
	defer cancel()
	start := time.Now()
	shipment, err := s.carrier.CreateReturn(callCtx, req)
	s.observeExternal(peerCarrier, "create_return", start, err)
	return shipment, err
}
