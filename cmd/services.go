package main

import (
	"context"
	"errors"
	"fmt"
	"github.com/go-logr/logr"
	"github.com/jmoiron/sqlx"
	"github.com/rafata1/order-saga-outbox/api"
	"github.com/rafata1/order-saga-outbox/app"
	"github.com/rafata1/order-saga-outbox/config"
	"github.com/rafata1/order-saga-outbox/dispatch"
	"github.com/rafata1/order-saga-outbox/service/inventory"
	"github.com/rafata1/order-saga-outbox/service/order"
	"github.com/rafata1/order-saga-outbox/service/outbox"
	"github.com/rafata1/order-saga-outbox/service/payment"
	"github.com/rafata1/order-saga-outbox/service/saga"
	"github.com/rafata1/order-saga-outbox/store"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

const shutdownTimeout = 10 * time.Second

// environment holds what every long running command needs.
type environment struct {
	cfg    *config.Config
	logger logr.Logger
}

func withEnvironment(run func(ctx context.Context, env environment) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err = cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		logger, flush, err := newLogger(cfg.Log)
		if err != nil {
			return err
		}
		defer flush()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err = run(ctx, environment{cfg: cfg, logger: logger}); err != nil {
			logger.Error(err, "Stopped with error")
			return err
		}
		logger.Info("Stopped")
		return nil
	}
}

func openDatabase(ctx context.Context, svc config.ServiceConfig) (*sqlx.DB, error) {
	return store.Open(ctx, svc.Driver, svc.DatabaseDSN)
}

// participant is one service process: its outbox relay, the consumer feeding
// its router and, when addr is set, its HTTP API.
type participant struct {
	name    string
	outbox  outbox.IRepo
	router  *dispatch.Router
	handler http.Handler
	addr    string
}

func (p participant) run(ctx context.Context, env environment) error {
	logger := env.logger.WithName(p.name)

	pub, err := newPublisher(ctx, env.cfg.Bus, logger)
	if err != nil {
		return err
	}
	defer func() { _ = pub.Close() }()
	sub, err := newSubscriber(ctx, env.cfg.Bus, p.name, p.router, logger)
	if err != nil {
		return err
	}
	defer func() { _ = sub.Close() }()

	relay := outbox.NewRelay(p.outbox, pub, env.cfg.Bus.Topic, env.cfg.Outbox, logger.WithName("relay"))
	handle := dispatch.Retrying(p.router.Handle, dispatch.DefaultRetryPolicy(env.cfg.Saga.UnknownOrderGrace), logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return relay.Run(ctx)
	})
	g.Go(func() error {
		return sub.Subscribe(ctx, handle)
	})
	if p.handler != nil && p.addr != "" {
		g.Go(func() error {
			return serve(ctx, p.addr, p.handler, logger)
		})
	}
	logger.Info("Service started", "bus", env.cfg.Bus.Kind, "topic", env.cfg.Bus.Topic, "addr", p.addr)
	return g.Wait()
}

func serve(ctx context.Context, addr string, handler http.Handler, logger logr.Logger) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errs := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		errs <- server.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errs; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func orderServiceCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "order-service",
		Short: "serve the order API and answer order and inventory commands",
		Args:  cobra.NoArgs,
		RunE: withEnvironment(func(ctx context.Context, env environment) error {
			svc := env.cfg.OrderConfig
			db, err := openDatabase(ctx, svc)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			logger := env.logger.WithName(svc.Name)
			inventoryRepo := inventory.NewRepo(db)
			orders := order.NewService(order.NewRepo(db), inventoryRepo, logger)
			inventories := inventory.NewService(inventoryRepo, logger)
			if addr == "" {
				addr = env.cfg.HTTP.Addr
			}
			return participant{
				name:    svc.Name,
				outbox:  outbox.NewRepo(db),
				router:  app.OrderRoutes(dispatch.NewRouter(logger), orders, inventories),
				handler: api.NewRouter(api.NewOrderHandler(orders, logger), nil),
				addr:    addr,
			}.run(ctx, env)
		}),
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address, defaults to the configured http.addr")
	return cmd
}

func orchestratorCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "orchestrator",
		Short: "run the order saga orchestrator",
		Args:  cobra.NoArgs,
		RunE: withEnvironment(func(ctx context.Context, env environment) error {
			svc := env.cfg.OrchestratorConfig
			logger := env.logger.WithName(svc.Name)

			var sagaRepo saga.IRepo
			var outboxRepo outbox.IRepo
			switch env.cfg.Saga.Store {
			case config.SagaStoreMongo:
				db, err := store.ConnectMongo(ctx, env.cfg.Mongo.URI, env.cfg.Mongo.Database)
				if err != nil {
					return err
				}
				defer func() { _ = db.Client().Disconnect(context.WithoutCancel(ctx)) }()
				sagaRepo, outboxRepo = saga.NewMongoRepo(db), outbox.NewMongoRepo(db)
			default:
				db, err := openDatabase(ctx, svc)
				if err != nil {
					return err
				}
				defer func() { _ = db.Close() }()
				sagaRepo, outboxRepo = saga.NewRepo(db), outbox.NewRepo(db)
			}

			sagas := saga.NewService(sagaRepo, env.cfg.Saga, logger)
			return participant{
				name:    svc.Name,
				outbox:  outboxRepo,
				router:  app.OrchestratorRoutes(dispatch.NewRouter(logger), sagas),
				handler: api.NewRouter(nil, api.NewSagaHandler(sagas, logger)),
				addr:    addr,
			}.run(ctx, env)
		}),
	}
	cmd.Flags().StringVar(&addr, "addr", ":8081", "HTTP listen address of the saga query API, empty to disable")
	return cmd
}

func paymentServiceCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "payment-service",
		Short: "answer payment commands",
		Args:  cobra.NoArgs,
		RunE: withEnvironment(func(ctx context.Context, env environment) error {
			svc := env.cfg.PaymentConfig
			db, err := openDatabase(ctx, svc)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			logger := env.logger.WithName(svc.Name)
			payments := payment.NewService(payment.NewRepo(db), logger)
			return participant{
				name:   svc.Name,
				outbox: outbox.NewRepo(db),
				router: app.PaymentRoutes(dispatch.NewRouter(logger), payments),
			}.run(ctx, env)
		}),
	}
}
