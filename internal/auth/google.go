package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"onlineauth/internal/common"
)

const defaultUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

// GoogleConfig holds the OAuth client settings. The URL fields override
// Google's endpoints and are left empty outside tests.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	HTTPClient   *http.Client
}

// GoogleProvider runs the authorization-code flow with PKCE.
type GoogleProvider struct {
	oauth       *oauth2.Config
	userInfoURL string
	httpClient  *http.Client
	flows       *pendingFlowStore
}

func NewGoogleProvider(cfg GoogleConfig) *GoogleProvider {
	endpoint := endpoints.Google
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	userInfoURL := cfg.UserInfoURL
	if userInfoURL == "" {
		userInfoURL = defaultUserInfoURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &GoogleProvider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.CallbackURL,
			Scopes:       []string{"openid", "profile", "email"},
			Endpoint:     endpoint,
		},
		userInfoURL: userInfoURL,
		httpClient:  httpClient,
		flows:       newPendingFlowStore(10 * time.Minute),
	}
}

// Configured reports whether client credentials are present.
func (p *GoogleProvider) Configured() bool {
	return p.oauth.ClientID != "" && p.oauth.ClientSecret != ""
}

// AuthCodeURL starts a flow and returns the provider URL to redirect to.
func (p *GoogleProvider) AuthCodeURL() (string, error) {
	if !p.Configured() {
		return "", fmt.Errorf("%w: google oauth client", common.ErrNotConfigured)
	}
	verifier := oauth2.GenerateVerifier()
	state, err := p.flows.create(verifier)
	if err != nil {
		return "", err
	}
	return p.oauth.AuthCodeURL(state, oauth2.AccessTypeOnline, oauth2.S256ChallengeOption(verifier)), nil
}

// Exchange completes a flow started by AuthCodeURL and fetches the profile.
func (p *GoogleProvider) Exchange(ctx context.Context, state, code string) (Identity, error) {
	if state == "" || code == "" {
		return Identity{}, fmt.Errorf("%w: missing code or state", common.ErrValidation)
	}
	flow := p.flows.consume(state)
	if flow == nil {
		return Identity{}, fmt.Errorf("%w: unknown or expired state", common.ErrInvalidToken)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	token, err := p.oauth.Exchange(ctx, code, oauth2.VerifierOption(flow.codeVerifier))
	if err != nil {
		return Identity{}, fmt.Errorf("exchange code: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return Identity{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := p.oauth.Client(ctx, token).Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("fetch profile: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Identity{}, fmt.Errorf("fetch profile: status %d", resp.StatusCode)
	}

	var profile struct {
		Sub     string `json:"sub"`
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return Identity{}, fmt.Errorf("decode profile: %w", err)
	}
	return Identity{
		Subject: profile.Sub,
		Email:   strings.TrimSpace(profile.Email),
		Name:    profile.Name,
		Picture: profile.Picture,
	}, nil
}

// pendingFlow holds PKCE state for an in-flight login.
type pendingFlow struct {
	codeVerifier string
	createdAt    time.Time
}

// pendingFlowStore keeps in-flight flows keyed by the state parameter.
type pendingFlowStore struct {
	mu    sync.Mutex
	flows map[string]*pendingFlow
	ttl   time.Duration
	clock func() time.Time
}

func newPendingFlowStore(ttl time.Duration) *pendingFlowStore {
	return &pendingFlowStore{
		flows: make(map[string]*pendingFlow),
		ttl:   ttl,
		clock: time.Now,
	}
}

// create stores a flow and returns its state value. Expired flows are purged.
func (s *pendingFlowStore) create(codeVerifier string) (string, error) {
	state, err := randomHex(16)
	if err != nil {
		return "", err
	}
	now := s.clock()
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, flow := range s.flows {
		if now.Sub(flow.createdAt) > s.ttl {
			delete(s.flows, key)
		}
	}
	s.flows[state] = &pendingFlow{codeVerifier: codeVerifier, createdAt: now}
	return state, nil
}

// consume removes and returns a flow; nil when missing or expired.
func (s *pendingFlowStore) consume(state string) *pendingFlow {
	s.mu.Lock()
	flow, ok := s.flows[state]
	if ok {
		delete(s.flows, state)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	if s.clock().Sub(flow.createdAt) > s.ttl {
		return nil
	}
	return flow
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
