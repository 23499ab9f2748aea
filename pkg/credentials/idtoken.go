// pkg/credentials/idtoken.go
package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const (
	assertionGrant = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	cloudScope     = "https://www.googleapis.com/auth/cloud-platform"
	// Refresh slightly before the real expiry so in-flight calls never carry
	// a token that dies mid-request.
	expirySkew = 60 * time.Second
)

// IDTokenClient mints audience-bound OIDC identity tokens for one audience.
// Construction (key parsing) is the expensive, failure-prone part; the token
// itself is refreshed lazily per call.
type IDTokenClient struct {
	sa       ServiceAccount
	key      jwk.Key
	audience string
	http     *http.Client

	mu     sync.Mutex
	token  string
	expiry time.Time
}

func NewIDTokenClient(sa ServiceAccount, audience string, httpClient *http.Client) (*IDTokenClient, error) {
	key, err := signingKey(sa)
	if err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &IDTokenClient{sa: sa, key: key, audience: audience, http: httpClient}, nil
}

func signingKey(sa ServiceAccount) (jwk.Key, error) {
	key, err := jwk.ParseKey([]byte(sa.PrivateKey), jwk.WithPEM(true))
	if err != nil {
		return nil, fmt.Errorf("%w: parsing private key: %v", ErrInvalidCredentials, err)
	}
	if sa.PrivateKeyID != "" {
		_ = key.Set(jwk.KeyIDKey, sa.PrivateKeyID)
	}
	return key, nil
}

// AuthorizationHeader returns "Bearer <id-token>", refreshing the token when
// it is absent or near expiry.
func (c *IDTokenClient) AuthorizationHeader(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && time.Now().Before(c.expiry.Add(-expirySkew)) {
		return "Bearer " + c.token, nil
	}
	assertion, err := assertionJWT(c.sa, c.key, map[string]any{"target_audience": c.audience})
	if err != nil {
		return "", err
	}
	body, err := exchange(ctx, c.http, c.sa.TokenURI, assertion)
	if err != nil {
		return "", err
	}
	if body.IDToken == "" {
		return "", fmt.Errorf("token endpoint returned no id_token for audience %s", c.audience)
	}
	c.token = body.IDToken
	c.expiry = idTokenExpiry(body.IDToken)
	return "Bearer " + c.token, nil
}

// AccessTokenSource mints cloud-platform scoped access tokens for calling the
// provisioning platform API.
type AccessTokenSource struct {
	sa   ServiceAccount
	key  jwk.Key
	http *http.Client

	mu     sync.Mutex
	token  string
	expiry time.Time
}

func NewAccessTokenSource(sa ServiceAccount, httpClient *http.Client) (*AccessTokenSource, error) {
	key, err := signingKey(sa)
	if err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &AccessTokenSource{sa: sa, key: key, http: httpClient}, nil
}

func (s *AccessTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != "" && time.Now().Before(s.expiry.Add(-expirySkew)) {
		return s.token, nil
	}
	assertion, err := assertionJWT(s.sa, s.key, map[string]any{"scope": cloudScope})
	if err != nil {
		return "", err
	}
	body, err := exchange(ctx, s.http, s.sa.TokenURI, assertion)
	if err != nil {
		return "", err
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned no access_token")
	}
	s.token = body.AccessToken
	s.expiry = time.Now().Add(time.Duration(body.ExpiresIn) * time.Second)
	return s.token, nil
}

func assertionJWT(sa ServiceAccount, key jwk.Key, extra map[string]any) ([]byte, error) {
	now := time.Now()
	b := jwt.NewBuilder().
		Issuer(sa.ClientEmail).
		Subject(sa.ClientEmail).
		Audience([]string{sa.TokenURI}).
		IssuedAt(now).
		Expiration(now.Add(time.Hour))
	for k, v := range extra {
		b = b.Claim(k, v)
	}
	tok, err := b.Build()
	if err != nil {
		return nil, err
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, key))
	if err != nil {
		return nil, fmt.Errorf("%w: signing assertion: %v", ErrInvalidCredentials, err)
	}
	return signed, nil
}

type tokenResponse struct {
	IDToken     string `json:"id_token"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func exchange(ctx context.Context, client *http.Client, tokenURI string, assertion []byte) (tokenResponse, error) {
	form := url.Values{
		"grant_type": {assertionGrant},
		"assertion":  {string(assertion)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURI, strings.NewReader(form.Encode()))
	if err != nil {
		return tokenResponse{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := client.Do(req)
	if err != nil {
		return tokenResponse{}, fmt.Errorf("token exchange: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return tokenResponse{}, fmt.Errorf("token exchange: unexpected status %d", resp.StatusCode)
	}
	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return tokenResponse{}, fmt.Errorf("token exchange: decoding response: %w", err)
	}
	return body, nil
}

// idTokenExpiry reads exp from the (already trusted) token we just minted.
// Falls back to a conservative window when the token is not parseable.
func idTokenExpiry(raw string) time.Time {
	tok, err := jwt.Parse([]byte(raw), jwt.WithVerify(false), jwt.WithValidate(false))
	if err != nil || tok.Expiration().IsZero() {
		return time.Now().Add(30 * time.Minute)
	}
	return tok.Expiration()
}
