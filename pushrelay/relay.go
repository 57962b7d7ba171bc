package pushrelay

import (
	"log/slog"

	"github.com/tinywideclouds/go-push-relay/internal/dispatch"
	"github.com/tinywideclouds/go-push-relay/internal/membership"
	"github.com/tinywideclouds/go-push-relay/internal/reconcile"
	"github.com/tinywideclouds/go-push-relay/internal/relay"
	"github.com/tinywideclouds/go-push-relay/internal/resolver"
	"github.com/tinywideclouds/go-push-relay/pkg/push"
	"github.com/tinywideclouds/go-push-relay/pushrelay/config"
)

// NewRelay wires the core engines over one store and one provider.
func NewRelay(cfg *config.Config, store push.Store, provider push.Provider, logger *slog.Logger) *relay.Service {
	res := resolver.NewResolver(store, logger)
	rec := reconcile.NewReconciler(store, logger)
	engine := dispatch.NewEngine(provider, store, logger, dispatch.WithConcurrency(cfg.DispatchConcurrency))
	members := membership.NewManager(store, provider, res, rec, logger)

	clientConfig := relay.ClientConfig{
		PublicKey:      cfg.Provider.PublicKey,
		ProviderConfig: cfg.Provider.ClientConfig,
	}
	return relay.NewService(clientConfig, res, engine, rec, members, logger)
}
