package identity

import (
	"context"
	"time"

	"github.com/dawidpereira/quetty/internal/model"
)

// ConnectionStringFlow implements Flow for the shared-access-signature
// connection-string path (spec §4.2, §6.4). There is no token exchange:
// the connection string itself is the credential, so Acquire/Refresh
// both return it with a far-future expiry. cmd/quetty does not build a
// Provider over this flow: its connection-string path hands the string
// to azservicebus.NewClientFromConnectionString directly.
type ConnectionStringFlow struct {
	connectionString string
}

// NewConnectionStringFlow wraps an already-validated Service Bus
// connection string.
func NewConnectionStringFlow(connectionString string) *ConnectionStringFlow {
	return &ConnectionStringFlow{connectionString: connectionString}
}

func (f *ConnectionStringFlow) Acquire(ctx context.Context) (model.Token, error) {
	return model.Token{
		Access:   f.connectionString,
		NotAfter: time.Now().Add(100 * 365 * 24 * time.Hour),
	}, nil
}

func (f *ConnectionStringFlow) Refresh(ctx context.Context, current model.Token) (model.Token, bool, error) {
	tok, err := f.Acquire(ctx)
	return tok, true, err
}
