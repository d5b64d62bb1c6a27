package tokenbroker

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/dmitrijs2005/chunkvault/internal/chunkstore"
	"github.com/dmitrijs2005/chunkvault/internal/common"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

var (
	googleDriveScopes = []string{"https://www.googleapis.com/auth/drive.file"}
	oneDriveScopes    = []string{"Files.ReadWrite", "offline_access"}
)

func GoogleConfig(clientID, clientSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     endpoints.Google,
		Scopes:       googleDriveScopes,
	}
}

// MicrosoftConfig targets the Azure AD v2 endpoint of tenant ("common" when
// empty).
func MicrosoftConfig(clientID, clientSecret, tenant string) *oauth2.Config {
	if tenant == "" {
		tenant = "common"
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     endpoints.AzureAD(tenant),
		Scopes:       oneDriveScopes,
	}
}

// OAuthRefresher runs the OAuth2 refresh grant against the provider
// configured for each backend.
type OAuthRefresher struct {
	configs map[string]*oauth2.Config
	client  *http.Client
}

// NewOAuthRefresher builds a refresher. client may be nil.
func NewOAuthRefresher(configs map[string]*oauth2.Config, client *http.Client) *OAuthRefresher {
	return &OAuthRefresher{configs: configs, client: client}
}

func (r *OAuthRefresher) Refresh(ctx context.Context, backend, refreshToken string) (*TokenSet, error) {
	cfg, ok := r.configs[backend]
	if !ok || backend == chunkstore.BackendS3 {
		return nil, fmt.Errorf("%w: no oauth client for %s", common.ErrAuth, backend)
	}
	if r.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.client)
	}

	tok, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, classifyOAuth(ctx, err)
	}
	return &TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}, nil
}

func classifyOAuth(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return fmt.Errorf("%w: token refresh: %v", common.ErrTransient, err)
	}

	status := 0
	if re.Response != nil {
		status = re.Response.StatusCode
	}
	switch {
	case re.ErrorCode == "invalid_grant", re.ErrorCode == "invalid_client", re.ErrorCode == "unauthorized_client":
		return fmt.Errorf("%w: token refresh: %s", common.ErrAuth, re.ErrorCode)
	case status == http.StatusTooManyRequests, status >= 500:
		return fmt.Errorf("%w: token refresh: status %d", common.ErrTransient, status)
	default:
		return fmt.Errorf("%w: token refresh: %v", common.ErrAuth, err)
	}
}
