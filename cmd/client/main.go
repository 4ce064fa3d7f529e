// The client daemon keeps the local storefront state alive: it opens the
// durable store, watches connectivity and replays queued actions when the
// server comes back. A UI talks to these components in-process.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mkorchagin/offline-shop/internal/client/api"
	"github.com/mkorchagin/offline-shop/internal/client/cart"
	"github.com/mkorchagin/offline-shop/internal/client/connectivity"
	"github.com/mkorchagin/offline-shop/internal/client/queue"
	"github.com/mkorchagin/offline-shop/internal/client/store"
	"github.com/mkorchagin/offline-shop/internal/config"
	"github.com/mkorchagin/offline-shop/internal/transport"
	"github.com/mkorchagin/offline-shop/pkg/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}

	log := logging.New(cfg.LogLevel)

	st, err := store.Open(cfg.StorePath, log)
	if err != nil {
		return err
	}
	defer st.Close()

	client := api.New(cfg.APIBaseURL, cfg.HTTPTimeout)

	policy := queue.ReconcileHold
	if cfg.ReconcilePolicy == "drop" {
		policy = queue.ReconcileDrop
	}
	q := queue.New(st, client, policy, log)
	q.OnReconciliationNeeded(func(a store.PendingAction, delta *transport.ReconciliationDelta) {
		log.Warn("checkout held for review",
			"action_id", a.ID,
			"adjusted", len(delta.AdjustedItems),
			"removed", len(delta.RemovedItems))
	})

	monitor := connectivity.New(client.Ready, cfg.ProbeInterval, q, log)

	carts := cart.New(st, client, monitor.IsOnline, log)
	carts.Subscribe(func(items []store.CartItem) {
		log.Debug("cart changed", "lines", len(items))
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	resync := monitor.SubscribeResync()
	go func() {
		for range resync {
			refreshSnapshot(ctx, client, st, log)
		}
	}()

	monitor.Start(ctx)
	log.Info("client started", "store", cfg.StorePath, "api", cfg.APIBaseURL)

	<-ctx.Done()
	monitor.Stop()
	log.Info("client stopped")
	return nil
}

// refreshSnapshot pulls the whole catalog into the local cache. Best-effort:
// a failed refresh just leaves the previous snapshot in place.
func refreshSnapshot(ctx context.Context, client *api.Client, st *store.Store, log *slog.Logger) {
	const pageSize = 100

	for page := 1; ; page++ {
		products, pagination, err := client.FetchProducts(ctx, page, pageSize)
		if err != nil {
			log.Warn("catalog refresh failed", "error", err)
			return
		}
		if err := st.SaveProducts(ctx, products); err != nil {
			log.Warn("catalog save failed", "error", err)
			return
		}
		if pagination == nil || page >= pagination.Pages {
			break
		}
	}

	categories, err := client.FetchCategories(ctx)
	if err != nil {
		log.Warn("category refresh failed", "error", err)
		return
	}
	if err := st.SaveCategories(ctx, categories); err != nil {
		log.Warn("category save failed", "error", err)
		return
	}
	log.Info("catalog snapshot refreshed")
}
