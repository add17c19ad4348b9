package order

import "github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/shipping"

// State implements the state pattern for the order lifecycle:
//
//	pending -> confirmed -> shipped -> delivered -> return_requested | exchange_requested
//	pending | confirmed -> cancelled
//	confirmed -> pending (compensation only)
type State interface {
	Status() Status
	OnConfirm(o *Order) (State, error)
	OnRevert(o *Order) (State, error)
	OnCancel(o *Order) (State, error)
	OnShip(o *Order) (State, error)
	OnDeliver(o *Order) (State, error)
	OnReturnRequested(o *Order) (State, error)
	OnExchangeRequested(o *Order) (State, error)
}

// rejectAll is embedded by every state; states override only the moves they allow.
type rejectAll struct{}

func (rejectAll) OnConfirm(*Order) (State, error)           { return nil, ErrInvalidStateTransition }
func (rejectAll) OnRevert(*Order) (State, error)            { return nil, ErrInvalidStateTransition }
func (rejectAll) OnCancel(*Order) (State, error)            { return nil, ErrInvalidStateTransition }
func (rejectAll) OnShip(*Order) (State, error)              { return nil, ErrInvalidStateTransition }
func (rejectAll) OnDeliver(*Order) (State, error)           { return nil, ErrInvalidStateTransition }
func (rejectAll) OnReturnRequested(*Order) (State, error)   { return nil, ErrInvalidStateTransition }
func (rejectAll) OnExchangeRequested(*Order) (State, error) { return nil, ErrInvalidStateTransition }

type pendingState struct{ rejectAll }

func (pendingState) Status() Status { return StatusPending }

func (pendingState) OnConfirm(o *Order) (State, error) {
	o.ShippingStatus = shipping.StatusPending
	return confirmedState{}, nil
}

func (pendingState) OnCancel(o *Order) (State, error) {
	o.ShippingStatus = shipping.StatusCancelled
	return cancelledState{}, nil
}

type confirmedState struct{ rejectAll }

func (confirmedState) Status() Status { return StatusConfirmed }

func (confirmedState) OnRevert(o *Order) (State, error) {
	o.ShippingStatus = shipping.StatusPending
	return pendingState{}, nil
}

func (confirmedState) OnCancel(o *Order) (State, error) {
	o.ShippingStatus = shipping.StatusCancelled
	return cancelledState{}, nil
}

func (confirmedState) OnShip(o *Order) (State, error) {
	o.ShippingStatus = shipping.StatusShipped
	return shippedState{}, nil
}

type shippedState struct{ rejectAll }

func (shippedState) Status() Status { return StatusShipped }

func (shippedState) OnShip(*Order) (State, error) { return shippedState{}, nil }

func (shippedState) OnDeliver(o *Order) (State, error) {
	o.ShippingStatus = shipping.StatusDelivered
	return deliveredState{}, nil
}

type deliveredState struct{ rejectAll }

func (deliveredState) Status() Status { return StatusDelivered }

func (deliveredState) OnDeliver(*Order) (State, error) { return deliveredState{}, nil }

func (deliveredState) OnReturnRequested(o *Order) (State, error) {
	o.ShippingStatus = shipping.StatusReturnRequested
	return returnRequestedState{}, nil
}

func (deliveredState) OnExchangeRequested(o *Order) (State, error) {
	o.ShippingStatus = shipping.StatusExchangeRequested
	return exchangeRequestedState{}, nil
}

type cancelledState struct{ rejectAll }

func (cancelledState) Status() Status { return StatusCancelled }

type returnRequestedState struct{ rejectAll }

func (returnRequestedState) Status() Status { return StatusReturnRequested }

type exchangeRequestedState struct{ rejectAll }

func (exchangeRequestedState) Status() Status { return StatusExchangeRequested }

func stateFor(s Status) State {
	switch s {
	case StatusPending:
		return pendingState{}
	case StatusConfirmed:
		return confirmedState{}
	case StatusShipped:
		return shippedState{}
	case StatusDelivered:
		return deliveredState{}
	case StatusCancelled:
		return cancelledState{}
	case StatusReturnRequested:
		return returnRequestedState{}
	case StatusExchangeRequested:
		return exchangeRequestedState{}
	default:
		return cancelledState{}
	}
}

// CanTransition reports whether the lifecycle allows moving from one status to another.
func CanTransition(from, to Status) bool {
	probe := &Order{Status: from}
	s := stateFor(from)
	var (
		next State
		err  error
	)
	switch to {
	case StatusPending:
		next, err = s.OnRevert(probe)
	case StatusConfirmed:
		next, err = s.OnConfirm(probe)
	case StatusShipped:
		next, err = s.OnShip(probe)
	case StatusDelivered:
		next, err = s.OnDeliver(probe)
	case StatusCancelled:
		next, err = s.OnCancel(probe)
	case StatusReturnRequested:
		next, err = s.OnReturnRequested(probe)
	case StatusExchangeRequested:
		next, err = s.OnExchangeRequested(probe)
	default:
		return false
	}
	return err == nil && next.Status() == to
}
