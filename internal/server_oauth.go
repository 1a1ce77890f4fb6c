package internal

import (
	"errors"
	"mime"
	"net/http"
	"strings"

	"onlineauth/internal/common"
)

const googleFailPath = "/?google=fail"

type verifyTokenRequest struct {
	IDToken string `json:"idToken"`
}

type verifiedIdentity struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// HandleGoogleStart redirects to Google's consent screen.
func (s *Server) HandleGoogleStart(w http.ResponseWriter, r *http.Request) {
	url, err := s.google.AuthCodeURL()
	if err != nil {
		s.logger.Warn(r.Context(), "google sign-in unavailable", "error", err)
		http.Redirect(w, r, googleFailPath, http.StatusFound)
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

// HandleGoogleCallback finishes the code flow, signs the user in and sends
// them to the protected page. Every failure lands on the failure path.
func (s *Server) HandleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	if reason := q.Get("error"); reason != "" {
		s.logger.Info(ctx, "google sign-in declined", "reason", reason)
		http.Redirect(w, r, googleFailPath, http.StatusFound)
		return
	}
	identity, err := s.google.Exchange(ctx, q.Get("state"), q.Get("code"))
	if err != nil {
		s.logger.Warn(ctx, "google code exchange failed", "error", err)
		http.Redirect(w, r, googleFailPath, http.StatusFound)
		return
	}
	user, err := s.auth.LoginFederated(ctx, identity)
	if err != nil {
		s.logger.Warn(ctx, "federated login failed", "subject", identity.Subject, "error", err)
		http.Redirect(w, r, googleFailPath, http.StatusFound)
		return
	}
	if _, err := s.sessions.Login(w, r, user); err != nil {
		s.logger.Error(ctx, "create session", "user_id", user.ID, "error", err)
		http.Redirect(w, r, googleFailPath, http.StatusFound)
		return
	}
	s.metrics.IncFederatedLogin()
	http.Redirect(w, r, "/protected", http.StatusFound)
}

// HandleVerifyToken checks a Google ID token posted by a browser client and
// echoes the identity it asserts. No session is created.
func (s *Server) HandleVerifyToken(w http.ResponseWriter, r *http.Request) {
	var req verifyTokenRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		if err := r.ParseForm(); err == nil {
			req.IDToken = r.PostFormValue("idToken")
		}
	} else if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	token := strings.TrimSpace(req.IDToken)
	if token == "" {
		writeError(w, http.StatusBadRequest, "idToken required")
		return
	}
	claims, err := s.verifier.Verify(r.Context(), token)
	switch {
	case errors.Is(err, common.ErrNotConfigured):
		s.logger.Error(r.Context(), "verify-token called without GOOGLE_CLIENT_ID")
		writeError(w, http.StatusInternalServerError, "Server not configured with GOOGLE_CLIENT_ID")
		return
	case err != nil:
		s.logger.Warn(r.Context(), "id token verification failed", "error", err)
		writeError(w, http.StatusUnauthorized, "Invalid token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]verifiedIdentity{"user": {
		ID:      claims.Subject,
		Email:   claims.Email,
		Name:    claims.Name,
		Picture: claims.Picture,
	}})
}
