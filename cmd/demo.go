package main

import (
	"context"
	"github.com/rafata1/order-saga-outbox/api"
	"github.com/rafata1/order-saga-outbox/app"
	"github.com/rafata1/order-saga-outbox/config"
	"github.com/rafata1/order-saga-outbox/model"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var demoProducts = []model.Inventory{
	{ProductID: "P-1", ProductName: "Notebook", UnitPrice: decimal.RequireFromString("4.50"), Quantity: 100},
	{ProductID: "P-2", ProductName: "Fountain pen", UnitPrice: decimal.RequireFromString("25.00"), Quantity: 10},
	{ProductID: "P-3", ProductName: "Ink bottle", UnitPrice: decimal.RequireFromString("7.25"), Quantity: 0},
}

var demoAccounts = []model.Account{
	{CustomerID: "alice", Balance: decimal.RequireFromString("100.00")},
	{CustomerID: "bob", Balance: decimal.RequireFromString("5.00")},
}

func demoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "run every service in memory behind one HTTP API",
		Args:  cobra.NoArgs,
		RunE: withEnvironment(func(ctx context.Context, env environment) error {
			env.cfg.Bus.Kind = config.BusMemory
			system := app.NewInMemory(env.cfg, env.logger)
			for _, product := range demoProducts {
				if err := system.AddProduct(ctx, product); err != nil {
					return err
				}
			}
			for _, account := range demoAccounts {
				if err := system.AddAccount(ctx, account); err != nil {
					return err
				}
			}

			router := api.NewRouter(api.NewOrderHandler(system.Orders, env.logger), api.NewSagaHandler(system.Sagas, env.logger))
			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return system.Run(ctx)
			})
			g.Go(func() error {
				return serve(ctx, env.cfg.HTTP.Addr, router, env.logger)
			})
			env.logger.Info("Demo started", "addr", env.cfg.HTTP.Addr, "customers", []string{"alice", "bob"}, "products", []string{"P-1", "P-2", "P-3"})
			return g.Wait()
		}),
	}
}
