package app

import (
	"context"
	"github.com/go-logr/logr"
	"github.com/rafata1/order-saga-outbox/bus"
	"github.com/rafata1/order-saga-outbox/config"
	"github.com/rafata1/order-saga-outbox/dispatch"
	"github.com/rafata1/order-saga-outbox/model"
	"github.com/rafata1/order-saga-outbox/service/inventory"
	"github.com/rafata1/order-saga-outbox/service/order"
	"github.com/rafata1/order-saga-outbox/service/outbox"
	"github.com/rafata1/order-saga-outbox/service/payment"
	"github.com/rafata1/order-saga-outbox/service/saga"
	"github.com/rafata1/order-saga-outbox/store"
	"golang.org/x/sync/errgroup"
)

// InMemory runs the three services on in-memory databases connected by an
// in-memory bus. Each service keeps its own database, as it would in production.
type InMemory struct {
	Orders    order.IService
	Inventory inventory.IService
	Payments  payment.IService
	Sagas     saga.IService

	inventoryRepo inventory.IRepo
	paymentRepo   payment.IRepo
	bus           *bus.InMemoryBus
	relays        []*outbox.Relay
}

func NewInMemory(cfg *config.Config, logger logr.Logger, opts ...outbox.Option) *InMemory {
	orderDB, orchestratorDB, paymentDB := store.NewMemoryDB(), store.NewMemoryDB(), store.NewMemoryDB()
	memoryBus := bus.NewInMemoryBus()

	inventoryRepo := inventory.NewMemoryRepo(orderDB)
	paymentRepo := payment.NewMemoryRepo(paymentDB)
	s := &InMemory{
		Orders:        order.NewService(order.NewMemoryRepo(orderDB), inventoryRepo, logger.WithName("order")),
		Inventory:     inventory.NewService(inventoryRepo, logger.WithName("inventory")),
		Payments:      payment.NewService(paymentRepo, logger.WithName("payment")),
		Sagas:         saga.NewService(saga.NewMemoryRepo(orchestratorDB), cfg.Saga, logger.WithName("orchestrator")),
		inventoryRepo: inventoryRepo,
		paymentRepo:   paymentRepo,
		bus:           memoryBus,
	}

	// publishing is synchronous, so a failed handler fails the publish and the
	// relay retries the message on its next tick
	memoryBus.Register(OrderRoutes(dispatch.NewRouter(logger.WithName("order")), s.Orders, s.Inventory).Handle)
	memoryBus.Register(OrchestratorRoutes(dispatch.NewRouter(logger.WithName("orchestrator")), s.Sagas).Handle)
	memoryBus.Register(PaymentRoutes(dispatch.NewRouter(logger.WithName("payment")), s.Payments).Handle)

	for _, db := range []*store.MemoryDB{orderDB, orchestratorDB, paymentDB} {
		s.relays = append(s.relays, outbox.NewRelay(outbox.NewMemoryRepo(db), memoryBus, cfg.Bus.Topic, cfg.Outbox, logger.WithName("relay"), opts...))
	}
	return s
}

func (s *InMemory) AddProduct(ctx context.Context, product model.Inventory) error {
	return s.inventoryRepo.CreateInventory(ctx, product)
}

func (s *InMemory) AddAccount(ctx context.Context, account model.Account) error {
	return s.paymentRepo.CreateAccount(ctx, account)
}

// RelayOnce runs one relay pass over every service's outbox and returns the
// number of messages published.
func (s *InMemory) RelayOnce(ctx context.Context) (int, error) {
	total := 0
	for _, relay := range s.relays {
		n, err := relay.RelayMessage(ctx)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// Run relays every outbox until ctx is cancelled.
func (s *InMemory) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, relay := range s.relays {
		g.Go(func() error {
			return relay.Run(ctx)
		})
	}
	return g.Wait()
}
