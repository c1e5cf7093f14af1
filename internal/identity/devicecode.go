package identity

import (
	"context"
	"strings"
	"time"

	"github.com/AzureAD/microsoft-authentication-library-for-go/apps/public"
	"go.uber.org/zap"

	"github.com/dawidpereira/quetty/internal/bus"
	"github.com/dawidpereira/quetty/internal/errs"
	"github.com/dawidpereira/quetty/internal/model"
)

// DeviceCodeFlow implements Flow using Entra ID's device authorization
// grant. The actual authorization_pending/slow_down polling loop
// described in spec §4.2 is performed inside the MSAL client rather
// than by this package: the public MSAL Go API exposes device-code
// sign-in as a single AcquireTokenByDeviceCode call followed by a
// blocking AuthenticationResult(ctx), not a step-by-step poll. This
// package keeps the poll's externally visible contract (emit
// AuthDeviceCodePending once with the user code and verification URL,
// then block until success/expiry/cancellation) and defers the wire
//-level retry cadence to MSAL.
type DeviceCodeFlow struct {
	client *public.Client
	scopes []string
	bus    *bus.Bus
	logger *zap.Logger
}

// NewDeviceCodeFlow constructs a DeviceCodeFlow for the given Entra ID
// application/tenant pair.
func NewDeviceCodeFlow(clientID, tenantID string, scopes []string, b *bus.Bus, logger *zap.Logger) (*DeviceCodeFlow, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := public.New(clientID, public.WithAuthority("https://login.microsoftonline.com/"+tenantID))
	if err != nil {
		return nil, errs.New("identity_device_code", "new_client", errs.KindAuth, err)
	}
	return &DeviceCodeFlow{client: &client, scopes: scopes, bus: b, logger: logger}, nil
}

func (f *DeviceCodeFlow) Acquire(ctx context.Context) (model.Token, error) {
	dc, err := f.client.AcquireTokenByDeviceCode(ctx, f.scopes)
	if err != nil {
		return model.Token{}, errs.New("identity_device_code", "start", errs.KindAuth, err)
	}

	msg := dc.Result
	if f.bus != nil {
		f.bus.Publish(bus.AuthDeviceCodePending{
			UserCode:        msg.UserCode,
			VerificationURI: msg.VerificationURL,
			ExpiresIn:       int(time.Until(msg.ExpiresOn) / time.Second),
		})
	}

	res, err := dc.AuthenticationResult(ctx)
	if err != nil {
		return model.Token{}, classifyDeviceCodeError(err)
	}

	return model.Token{
		Access:   res.AccessToken,
		NotAfter: res.ExpiresOn,
		Scope:    f.scopeString(),
	}, nil
}

// Refresh relies on MSAL's in-memory account cache: AcquireTokenSilent
// transparently uses the account's refresh token when the access token
// is stale. A cache miss (account never signed in, or refresh token
// itself expired) surfaces as refreshed=false so Provider falls back to
// a full device-code Acquire.
func (f *DeviceCodeFlow) Refresh(ctx context.Context, current model.Token) (model.Token, bool, error) {
	accounts, err := f.client.Accounts(ctx)
	if err != nil || len(accounts) == 0 {
		return model.Token{}, false, nil
	}

	res, err := f.client.AcquireTokenSilent(ctx, f.scopes, public.WithSilentAccount(accounts[0]))
	if err != nil {
		return model.Token{}, false, nil
	}

	return model.Token{
		Access:   res.AccessToken,
		NotAfter: res.ExpiresOn,
		Scope:    f.scopeString(),
	}, true, nil
}

func (f *DeviceCodeFlow) scopeString() string {
	if len(f.scopes) == 0 {
		return ""
	}
	out := f.scopes[0]
	for _, s := range f.scopes[1:] {
		out += " " + s
	}
	return out
}

// classifyDeviceCodeError maps MSAL's device-code failure modes onto
// quetty's taxonomy. MSAL surfaces expired_token/access_denied as plain
// errors rather than typed sentinels, so this matches on substring —
// the same approach the MSAL confidential/public client examples in
// the pack use when inspecting CallErr.Resp bodies.
func classifyDeviceCodeError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "expired_token") || strings.Contains(msg, "code_expired"):
		return errs.New("identity_device_code", "poll", errs.KindAuth, errs.ErrDeviceCodeExpired)
	case strings.Contains(msg, "access_denied") || strings.Contains(msg, "authorization_declined"):
		return errs.New("identity_device_code", "poll", errs.KindAuth, errs.ErrDeviceCodeDenied)
	default:
		return errs.New("identity_device_code", "poll", errs.KindAuth, err)
	}
}
