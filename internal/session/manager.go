package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"onlineauth/internal/common"
	"onlineauth/internal/logging"
	"onlineauth/internal/storage"
)

const (
	CookieName = "onlineauth.sid"
	DefaultTTL = 24 * time.Hour
)

// UserFinder resolves the user a session points at.
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*storage.User, error)
}

// Options configure cookie signing and lifetime.
type Options struct {
	Secret []byte
	TTL    time.Duration
	Secure bool
}

// Manager binds a browser cookie to a server-side session.
type Manager struct {
	store  Store
	users  UserFinder
	secret []byte
	ttl    time.Duration
	secure bool
	logger logging.Logger
	clock  func() time.Time
}

type cookieClaims struct {
	SID string `json:"sid"`
	jwt.RegisteredClaims
}

func NewManager(store Store, users UserFinder, opts Options, logger logging.Logger) (*Manager, error) {
	if store == nil || users == nil {
		return nil, errors.New("session store and user finder are required")
	}
	if len(opts.Secret) == 0 {
		return nil, fmt.Errorf("%w: session secret", common.ErrNotConfigured)
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Manager{
		store:  store,
		users:  users,
		secret: opts.Secret,
		ttl:    opts.TTL,
		secure: opts.Secure,
		logger: logger,
		clock:  time.Now,
	}, nil
}

// Login starts a fresh session for user. Any session the request already
// carried is discarded first.
func (m *Manager) Login(w http.ResponseWriter, r *http.Request, user *storage.User) (*storage.Session, error) {
	if user == nil || user.ID == "" {
		return nil, fmt.Errorf("%w: no user", common.ErrSession)
	}
	ctx := r.Context()
	if old := m.token(r); old != "" {
		if err := m.store.DeleteSession(ctx, old); err != nil {
			m.logger.Warn(ctx, "discard previous session", "error", err)
		}
	}

	now := m.clock()
	sess := storage.Session{
		Token:     uuid.NewString(),
		UserID:    user.ID,
		ExpiresAt: now.Add(m.ttl),
		CreatedAt: now,
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrSession, err)
	}
	value, err := m.sign(sess)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrSession, err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return &sess, nil
}

// CurrentUser returns the user behind the request's session, or nil when
// there is no valid cookie, no live session or the user no longer exists.
func (m *Manager) CurrentUser(r *http.Request) (*storage.User, error) {
	token := m.token(r)
	if token == "" {
		return nil, nil
	}
	ctx := r.Context()
	sess, err := m.store.GetSession(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrSession, err)
	}
	if sess == nil || sess.UserID == "" {
		return nil, nil
	}
	user, err := m.users.FindByID(ctx, sess.UserID)
	if err != nil {
		return nil, fmt.Errorf("resolve session user: %w", err)
	}
	return user, nil
}

// IsAuthenticated reports whether the request resolves to a user. Lookup
// failures count as unauthenticated.
func (m *Manager) IsAuthenticated(r *http.Request) bool {
	user, err := m.CurrentUser(r)
	if err != nil {
		m.logger.Warn(r.Context(), "session lookup failed", "error", err)
		return false
	}
	return user != nil
}

// Logout ends the request's session and clears the cookie. It is safe to call
// without a session.
func (m *Manager) Logout(w http.ResponseWriter, r *http.Request) error {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	token := m.token(r)
	if token == "" {
		return nil
	}
	if err := m.store.DeleteSession(r.Context(), token); err != nil {
		return fmt.Errorf("%w: %v", common.ErrSession, err)
	}
	return nil
}

// RequireAuth redirects requests without a session to redirect and stores the
// resolved user in the context otherwise.
func (m *Manager) RequireAuth(redirect string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := m.CurrentUser(r)
			if err != nil {
				m.logger.Warn(r.Context(), "session lookup failed", "error", err)
			}
			if user == nil {
				http.Redirect(w, r, redirect, http.StatusFound)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

func (m *Manager) sign(sess storage.Session) (string, error) {
	claims := cookieClaims{
		SID: sess.Token,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(sess.CreatedAt),
			ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// token extracts the session id from a valid cookie; "" otherwise.
func (m *Manager) token(r *http.Request) string {
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return ""
	}
	claims := &cookieClaims{}
	_, err = jwt.ParseWithClaims(cookie.Value, claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.clock),
	)
	if err != nil {
		return ""
	}
	return claims.SID
}

type userKey struct{}

// WithUser stores user in ctx.
func WithUser(ctx context.Context, user *storage.User) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// UserFromContext returns the user stored by WithUser, or nil.
func UserFromContext(ctx context.Context) *storage.User {
	user, _ := ctx.Value(userKey{}).(*storage.User)
	return user
}
