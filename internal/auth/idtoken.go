package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"onlineauth/internal/common"
)

const (
	defaultCertsURL = "https://www.googleapis.com/oauth2/v3/certs"

	// keySetRefresh is how often the cached key set is refetched in the background.
	keySetRefresh = time.Hour
	// keySetRetry spaces out attempts after the first fetch fails.
	keySetRetry = time.Minute
)

var googleIssuers = map[string]bool{
	"accounts.google.com":         true,
	"https://accounts.google.com": true,
}

// GoogleClaims are the ID token fields the server reads.
type GoogleClaims struct {
	jwt.RegisteredClaims
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// IDTokenVerifier checks Google-issued ID tokens against the published key set.
// The set is fetched on first use and refreshed on a timer; a token naming an
// unknown key is rejected from the cache without another fetch.
type IDTokenVerifier struct {
	clientID   string
	certsURL   string
	httpClient *http.Client
	refresh    time.Duration
	clock      func() time.Time

	mu          sync.Mutex
	keys        keyfunc.Keyfunc
	lastAttempt time.Time
	lastErr     error
	stop        context.CancelFunc
}

// NewIDTokenVerifier builds a verifier for tokens issued to clientID. An empty
// certsURL means Google's production key set.
func NewIDTokenVerifier(clientID, certsURL string, httpClient *http.Client) *IDTokenVerifier {
	if certsURL == "" {
		certsURL = defaultCertsURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &IDTokenVerifier{
		clientID:   clientID,
		certsURL:   certsURL,
		httpClient: httpClient,
		refresh:    keySetRefresh,
		clock:      time.Now,
	}
}

// Verify validates signature, issuer, audience and expiry.
func (v *IDTokenVerifier) Verify(ctx context.Context, raw string) (*GoogleClaims, error) {
	if v.clientID == "" {
		return nil, fmt.Errorf("%w: GOOGLE_CLIENT_ID", common.ErrNotConfigured)
	}
	if raw == "" {
		return nil, fmt.Errorf("%w: idToken required", common.ErrValidation)
	}
	claims := &GoogleClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		keys, err := v.keySet()
		if err != nil {
			return nil, err
		}
		return keys.Keyfunc(t)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(v.clientID),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.clock),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}
	if !googleIssuers[claims.Issuer] {
		return nil, fmt.Errorf("%w: unexpected issuer %q", common.ErrInvalidToken, claims.Issuer)
	}
	return claims, nil
}

// Close stops the background key set refresh.
func (v *IDTokenVerifier) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.stop != nil {
		v.stop()
		v.stop = nil
	}
}

// keySet returns the shared key set, loading it on first use. A failed load is
// remembered for keySetRetry so bad tokens cannot drive repeated fetches.
func (v *IDTokenVerifier) keySet() (keyfunc.Keyfunc, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.keys != nil {
		return v.keys, nil
	}
	if !v.lastAttempt.IsZero() && v.clock().Sub(v.lastAttempt) < keySetRetry {
		return nil, fmt.Errorf("key set unavailable: %w", v.lastErr)
	}
	v.lastAttempt = v.clock()

	ctx, cancel := context.WithCancel(context.Background())
	certsURL, err := url.Parse(v.certsURL)
	if err != nil {
		cancel()
		v.lastErr = err
		return nil, fmt.Errorf("fetch certs: %w", err)
	}
	storage, err := jwkset.NewStorageFromHTTP(certsURL, jwkset.HTTPClientStorageOptions{
		Client:          v.httpClient,
		Ctx:             ctx,
		HTTPTimeout:     10 * time.Second,
		RefreshInterval: v.refresh,
	})
	if err != nil {
		cancel()
		v.lastErr = err
		return nil, fmt.Errorf("fetch certs: %w", err)
	}
	keys, err := keyfunc.New(keyfunc.Options{Ctx: ctx, Storage: storage})
	if err != nil {
		cancel()
		v.lastErr = err
		return nil, fmt.Errorf("load certs: %w", err)
	}
	v.keys = keys
	v.stop = cancel
	return keys, nil
}
