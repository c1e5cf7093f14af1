package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"go.uber.org/zap"

	"github.com/dawidpereira/quetty/internal/errs"
	"github.com/dawidpereira/quetty/internal/model"
)

// managementScope is the resource scope the management HTTPS surface
// expects in the bearer token (spec §6.1).
const managementScope = "https://servicebus.azure.net/.default"

// AzureManagement implements Management against the namespace's HTTPS
// management surface (spec §6.1: "HTTPS with a bearer token in the
// Authorization header"). It is deliberately a separate type from
// AzureClient: the management surface is a distinct endpoint from the
// AMQP-like transport the peek/receive/settle/send operations use.
type AzureManagement struct {
	pipeline runtime.Pipeline
	endpoint string // https://<namespace>.servicebus.windows.net
	logger   *zap.Logger
}

// NewAzureManagement builds a Management client over an azcore runtime
// pipeline that attaches tokens minted by cred as a bearer Authorization
// header on every request (the same azcore.TokenCredential the identity
// package's Provider satisfies).
func NewAzureManagement(endpoint string, cred azcore.TokenCredential, logger *zap.Logger) *AzureManagement {
	if logger == nil {
		logger = zap.NewNop()
	}
	bearer := runtime.NewBearerTokenPolicy(cred, []string{managementScope}, nil)
	pipeline := runtime.NewPipeline("quetty-management", "v1", runtime.PipelineOptions{
		PerRetry: []policy.Policy{bearer},
	}, nil)

	return &AzureManagement{pipeline: pipeline, endpoint: endpoint, logger: logger}
}

type queueList struct {
	Queues []string `json:"queues"`
}

func (m *AzureManagement) ListNamespaces(ctx context.Context) ([]string, error) {
	// A namespace's management surface only describes itself; "listing
	// namespaces" resolves to the single configured namespace, matching
	// spec §6.4's single AZURE_AD__NAMESPACE configuration value.
	return []string{m.endpoint}, nil
}

func (m *AzureManagement) ListQueues(ctx context.Context, namespace string) ([]string, error) {
	req, err := runtime.NewRequest(ctx, http.MethodGet, m.endpoint+"/$Resources/queues?api-version=2021-05")
	if err != nil {
		return nil, errs.New("management", "list_queues", errs.KindIO, err)
	}

	resp, err := m.pipeline.Do(req)
	if err != nil {
		return nil, errs.New("management", "list_queues", errs.KindBroker, errs.ErrTransient)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, errs.New("management", "list_queues", errs.KindAuth, errs.ErrAuthExpired)
	}
	if resp.StatusCode/100 != 2 {
		return nil, errs.New("management", "list_queues", errs.KindBroker, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var out queueList
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errs.New("management", "list_queues", errs.KindIO, err)
	}
	return out.Queues, nil
}

func (m *AzureManagement) QueueStats(ctx context.Context, queue model.QueueIdentity) (QueueStats, error) {
	req, err := runtime.NewRequest(ctx, http.MethodGet, m.endpoint+"/"+queue.Name+"?api-version=2021-05")
	if err != nil {
		return QueueStats{}, errs.New("management", "queue_stats", errs.KindIO, err)
	}

	resp, err := m.pipeline.Do(req)
	if err != nil {
		return QueueStats{}, errs.New("management", "queue_stats", errs.KindBroker, errs.ErrTransient)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return QueueStats{}, errs.New("management", "queue_stats", errs.KindAuth, errs.ErrAuthExpired)
	}
	if resp.StatusCode == http.StatusNotFound {
		return QueueStats{}, errs.New("management", "queue_stats", errs.KindBroker, errs.ErrNotFound).WithSubject(queue.Name)
	}
	if resp.StatusCode/100 != 2 {
		return QueueStats{}, errs.New("management", "queue_stats", errs.KindBroker, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var stats struct {
		ActiveMessageCount     int64 `json:"activeMessageCount"`
		DeadLetterMessageCount int64 `json:"deadLetterMessageCount"`
		ScheduledMessageCount  int64 `json:"scheduledMessageCount"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return QueueStats{}, errs.New("management", "queue_stats", errs.KindIO, err)
	}

	return QueueStats{
		ActiveCount:     stats.ActiveMessageCount,
		DeadLetterCount: stats.DeadLetterMessageCount,
		ScheduledCount:  stats.ScheduledMessageCount,
	}, nil
}
