// Package identity implements quetty's two real authentication flows
// (device code, client credentials) plus the shared-access-signature
// pass-through, with proactive token refresh serialized under a mutex
// (spec §4.2).
package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dawidpereira/quetty/internal/bus"
	"github.com/dawidpereira/quetty/internal/errs"
	"github.com/dawidpereira/quetty/internal/model"
)

// Flow is satisfied by each concrete authentication method. Acquire
// performs a full sign-in (device code exchange, client credential
// exchange, or connection-string pass-through); Refresh attempts to
// extend an existing Token without a full re-acquire, returning
// (Token{}, false, nil) when the flow has no refresh capability.
type Flow interface {
	Acquire(ctx context.Context) (model.Token, error)
	Refresh(ctx context.Context, current model.Token) (model.Token, bool, error)
}

// Provider is process-wide state: exactly one cached Token, guarded by
// a mutex so concurrent GetAccessToken calls during a refresh all
// observe the same post-refresh token (spec §4.2's ordering guarantee).
// It is initialized on first use and lives for the process lifetime.
type Provider struct {
	mu     sync.Mutex
	flow   Flow
	token  model.Token
	logger *zap.Logger
	bus    *bus.Bus
	limiter *rate.Limiter

	// refreshing is non-nil while a refresh is in flight; concurrent
	// callers wait on it instead of issuing their own refresh.
	refreshing chan struct{}
}

// New constructs a Provider around the given Flow. The token endpoint
// rate limiter defaults to a small token bucket (capacity 5, refilling
// over a few seconds) per spec §4.2.
func New(flow Flow, logger *zap.Logger, b *bus.Bus) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		flow:    flow,
		logger:  logger,
		bus:     b,
		limiter: rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

// GetAccessToken returns a currently-valid access string, refreshing or
// re-acquiring as needed. It is the sole entry point broker-call sites
// use to obtain a token (spec §4.2).
func (p *Provider) GetAccessToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	if p.token.Valid(time.Now()) {
		tok := p.token.Access
		p.mu.Unlock()
		return tok, nil
	}

	if p.refreshing != nil {
		ch := p.refreshing
		p.mu.Unlock()
		select {
		case <-ch:
			return p.GetAccessToken(ctx)
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	ch := make(chan struct{})
	p.refreshing = ch
	current := p.token
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.refreshing = nil
		p.mu.Unlock()
		close(ch)
	}()

	if err := p.limiter.Wait(ctx); err != nil {
		return "", errs.New("identity_provider", "rate_limit", errs.KindAuth, errs.ErrTokenEndpointRateLimited)
	}

	newTok, refreshed, err := p.flow.Refresh(ctx, current)
	if err != nil || !refreshed {
		if err != nil {
			p.logger.Warn("token refresh failed, re-acquiring", zap.Error(err))
		}
		newTok, err = p.flow.Acquire(ctx)
		if err != nil {
			p.emitFailed(err)
			return "", errs.New("identity_provider", "refresh", errs.KindAuth, errs.ErrAuthExpired)
		}
	}

	p.mu.Lock()
	p.token = newTok
	p.mu.Unlock()

	p.emitSucceeded()
	return newTok.Access, nil
}

// GetToken satisfies azcore.TokenCredential so a Provider can be handed
// directly to the broker management client's bearer-token policy.
func (p *Provider) GetToken(ctx context.Context, _ policy.TokenRequestOptions) (azcore.AccessToken, error) {
	access, err := p.GetAccessToken(ctx)
	if err != nil {
		return azcore.AccessToken{}, err
	}
	p.mu.Lock()
	notAfter := p.token.NotAfter
	p.mu.Unlock()
	return azcore.AccessToken{Token: access, ExpiresOn: notAfter}, nil
}

func (p *Provider) emitSucceeded() {
	if p.bus == nil {
		return
	}
	p.bus.Publish(bus.AuthSucceeded{})
}

func (p *Provider) emitFailed(err error) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(bus.AuthFailed{Reason: fmt.Sprintf("%v", err)})
}
