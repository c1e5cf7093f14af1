package main

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"go.uber.org/zap"

	"github.com/dawidpereira/quetty/internal/broker"
	"github.com/dawidpereira/quetty/internal/bus"
	"github.com/dawidpereira/quetty/internal/config"
	"github.com/dawidpereira/quetty/internal/credstore"
	"github.com/dawidpereira/quetty/internal/errs"
	"github.com/dawidpereira/quetty/internal/identity"
	"github.com/dawidpereira/quetty/internal/model"
	"github.com/dawidpereira/quetty/internal/orchestrator"
	"github.com/dawidpereira/quetty/internal/queuesession"
)

// app bundles the session-lifetime components every subcommand needs,
// built once from the resolved Config (spec §4.9's consumers).
type app struct {
	cfg    config.Config
	bus    *bus.Bus
	logger *zap.Logger
	orch   *orchestrator.Orchestrator
	store  *credstore.Store
	actor  *queuesession.Actor
}

func loadConfig() (config.Config, error) {
	return config.Load(profileName, configPath)
}

// buildApp resolves configuration, authenticates, and wires the broker
// client, management surface, and queue session actor. Subcommands that
// need an authenticated broker connection (browse, bulk operations run
// from the TUI) call this; profile/config subcommands that only touch
// local files do not.
func buildApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	b := bus.New(256)
	reporter := errs.NewReporter(logger, b)
	orch := orchestrator.New(b, logger, reporter)
	store := credstore.New(logger, loadEncryptedCredentials(cfg))

	client, mgmt, err := buildBrokerSurface(cfg, store, b, logger)
	if err != nil {
		return nil, err
	}

	actor := queuesession.New(client, mgmt, logger, time.Duration(cfg.QueueStatsCacheTTLSeconds)*time.Second)
	go actor.Run(ctx)

	return &app{cfg: cfg, bus: b, logger: logger, orch: orch, store: store, actor: actor}, nil
}

// buildBrokerSurface picks between the connection-string pass-through
// and the Entra ID identity Provider based on cfg.Auth.Method, and
// constructs the matching broker.Client/Management pair (spec §4.2,
// §4.3, §6.1).
func buildBrokerSurface(cfg config.Config, store *credstore.Store, b *bus.Bus, logger *zap.Logger) (broker.Client, broker.Management, error) {
	if cfg.Auth.Method == string(model.AuthMethodConnectionString) {
		connStr, err := resolveConnectionString(cfg, store)
		if err != nil {
			return nil, nil, err
		}
		sb, err := azservicebus.NewClientFromConnectionString(connStr, nil)
		if err != nil {
			return nil, nil, errs.New("wiring", "new_servicebus_client", errs.KindBroker, err)
		}
		// Connection-string auth has no bearer token for the management
		// endpoint; queue statistics are unavailable on this path.
		return broker.NewAzureClient(sb, logger), noopManagement{}, nil
	}

	flow, scopes, err := buildFlow(cfg, store, b, logger)
	if err != nil {
		return nil, nil, err
	}
	provider := identity.New(flow, logger, b)

	fqdn := cfg.AzureAD.Namespace + ".servicebus.windows.net"
	sb, err := azservicebus.NewClient(fqdn, provider, nil)
	if err != nil {
		return nil, nil, errs.New("wiring", "new_servicebus_client", errs.KindBroker, err)
	}
	_ = scopes
	return broker.NewAzureClient(sb, logger), broker.NewAzureManagement("https://"+fqdn, provider, logger), nil
}

func buildFlow(cfg config.Config, store *credstore.Store, b *bus.Bus, logger *zap.Logger) (identity.Flow, []string, error) {
	scopes := []string{cfg.AzureAD.Scope}
	if cfg.AzureAD.Scope == "" {
		scopes = []string{"https://servicebus.azure.net/.default"}
	}

	switch cfg.AzureAD.AuthMethod {
	case string(model.AzureADClientSecret):
		secret, err := resolveClientSecret(cfg, store)
		if err != nil {
			return nil, nil, err
		}
		flow, err := identity.NewClientSecretFlow(cfg.AzureAD.ClientID, cfg.AzureAD.TenantID, secret, scopes)
		return flow, scopes, err

	default:
		flow, err := identity.NewDeviceCodeFlow(cfg.AzureAD.ClientID, cfg.AzureAD.TenantID, scopes, b, logger)
		return flow, scopes, err
	}
}

func resolveConnectionString(cfg config.Config, store *credstore.Store) (string, error) {
	if cfg.ServiceBus.ConnectionString != "" {
		return cfg.ServiceBus.ConnectionString, nil
	}
	if cfg.ServiceBus.EncryptedConnectionString == "" {
		return "", errs.New("wiring", "resolve_connection_string", errs.KindConfig, errs.ErrInvalidCredentials)
	}
	plain, ok := store.Cached(credstore.KindServiceBusConnectionString)
	if !ok {
		return "", errs.New("wiring", "resolve_connection_string", errs.KindAuth, errs.ErrInvalidCredentials).
			WithRemediation("run `quetty config unlock` to decrypt the stored connection string")
	}
	return string(plain.Bytes()), nil
}

func resolveClientSecret(cfg config.Config, store *credstore.Store) (string, error) {
	if cfg.AzureAD.ClientSecret != "" {
		return cfg.AzureAD.ClientSecret, nil
	}
	if cfg.AzureAD.EncryptedClientSecret == "" {
		return "", errs.New("wiring", "resolve_client_secret", errs.KindConfig, errs.ErrInvalidCredentials)
	}
	plain, ok := store.Cached(credstore.KindAzureADClientSecret)
	if !ok {
		return "", errs.New("wiring", "resolve_client_secret", errs.KindAuth, errs.ErrInvalidCredentials).
			WithRemediation("run `quetty config unlock` to decrypt the stored client secret")
	}
	return string(plain.Bytes()), nil
}

// noopManagement serves empty results for the management surface when
// running under connection-string auth, which has no bearer token to
// reach the HTTPS management endpoint with (spec §6.1, §4.2).
type noopManagement struct{}

func (noopManagement) ListNamespaces(ctx context.Context) ([]string, error) { return nil, nil }
func (noopManagement) ListQueues(ctx context.Context, namespace string) ([]string, error) {
	return nil, nil
}
func (noopManagement) QueueStats(ctx context.Context, queue model.QueueIdentity) (broker.QueueStats, error) {
	return broker.QueueStats{}, errs.New("management", "queue_stats", errs.KindState, errs.ErrWrongState).
		WithRemediation("queue statistics require azure_ad authentication")
}
