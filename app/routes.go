package app

import (
	"github.com/rafata1/order-saga-outbox/dispatch"
	"github.com/rafata1/order-saga-outbox/saga_event"
	"github.com/rafata1/order-saga-outbox/service/inventory"
	"github.com/rafata1/order-saga-outbox/service/order"
	"github.com/rafata1/order-saga-outbox/service/payment"
	"github.com/rafata1/order-saga-outbox/service/saga"
)

// OrderRoutes registers the commands the order service answers: the order
// status commands and the inventory commands, whose tables share its database.
func OrderRoutes(r *dispatch.Router, orders order.IService, inv inventory.IService) *dispatch.Router {
	return r.
		Register(saga_event.KindConfirmOrder, dispatch.On(orders.Confirm)).
		Register(saga_event.KindCancelOrder, dispatch.On(orders.Cancel)).
		Register(saga_event.KindReserveInventory, dispatch.On(inv.Reserve)).
		Register(saga_event.KindReleaseInventory, dispatch.On(inv.Release))
}

func OrchestratorRoutes(r *dispatch.Router, sagas saga.IService) *dispatch.Router {
	for _, kind := range saga_event.Kinds() {
		if saga.Handles(kind) {
			r.Register(kind, sagas.Handle)
		}
	}
	return r
}

func PaymentRoutes(r *dispatch.Router, payments payment.IService) *dispatch.Router {
	return r.Register(saga_event.KindProcessPayment, dispatch.On(payments.ProcessPayment))
}
