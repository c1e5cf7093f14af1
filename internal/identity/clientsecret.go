package identity

import (
	"context"

	"github.com/AzureAD/microsoft-authentication-library-for-go/apps/confidential"

	"github.com/dawidpereira/quetty/internal/errs"
	"github.com/dawidpereira/quetty/internal/model"
)

// ClientSecretFlow implements Flow using the OAuth2 client-credentials
// grant (spec §4.2's non-interactive service-principal path). It reuses
// MSAL's confidential client rather than azidentity's
// ClientSecretCredential so Provider can inspect the resulting token's
// raw expiry without going through azcore.TokenCredential's
// opaque GetToken, matching the shape DeviceCodeFlow already exposes.
type ClientSecretFlow struct {
	client *confidential.Client
	scopes []string
}

// NewClientSecretFlow constructs a ClientSecretFlow for the given
// Entra ID application/tenant/secret triple.
func NewClientSecretFlow(clientID, tenantID, clientSecret string, scopes []string) (*ClientSecretFlow, error) {
	cred, err := confidential.NewCredFromSecret(clientSecret)
	if err != nil {
		return nil, errs.New("identity_client_secret", "new_credential", errs.KindAuth, err)
	}
	client, err := confidential.New("https://login.microsoftonline.com/"+tenantID, clientID, cred)
	if err != nil {
		return nil, errs.New("identity_client_secret", "new_client", errs.KindAuth, err)
	}
	return &ClientSecretFlow{client: &client, scopes: scopes}, nil
}

func (f *ClientSecretFlow) Acquire(ctx context.Context) (model.Token, error) {
	res, err := f.client.AcquireTokenByCredential(ctx, f.scopes)
	if err != nil {
		return model.Token{}, errs.New("identity_client_secret", "acquire", errs.KindAuth, err)
	}
	return model.Token{
		Access:   res.AccessToken,
		NotAfter: res.ExpiresOn,
		Scope:    f.scopeString(),
	}, nil
}

// Refresh delegates to AcquireTokenSilent, which transparently serves
// the confidential client's own cached application token when it is
// still valid and re-requests it from Entra ID otherwise. There is no
// user-bound refresh token in this grant, so a cache miss always falls
// through to a full Acquire.
func (f *ClientSecretFlow) Refresh(ctx context.Context, current model.Token) (model.Token, bool, error) {
	res, err := f.client.AcquireTokenSilent(ctx, f.scopes)
	if err != nil {
		return model.Token{}, false, nil
	}
	return model.Token{
		Access:   res.AccessToken,
		NotAfter: res.ExpiresOn,
		Scope:    f.scopeString(),
	}, true, nil
}

func (f *ClientSecretFlow) scopeString() string {
	if len(f.scopes) == 0 {
		return ""
	}
	out := f.scopes[0]
	for _, s := range f.scopes[1:] {
		out += " " + s
	}
	return out
}
