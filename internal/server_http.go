package internal

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"

	"onlineauth/internal/common"
	"onlineauth/internal/storage"
)

const maxBodyBytes = 1 << 20

type credentialsRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ClientUser is the user shape returned to browsers. It never carries the hash.
type ClientUser struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Provider  string `json:"provider"`
	AvatarURL string `json:"avatarUrl"`
}

type userResponse struct {
	User *ClientUser `json:"user"`
}

func toClientUser(u *storage.User) *ClientUser {
	if u == nil {
		return nil
	}
	return &ClientUser{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Provider:  string(u.Provider),
		AvatarURL: u.AvatarURL,
	}
}

func (s *Server) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	user, err := s.auth.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		s.writeAuthError(w, r, "register", err, map[int]string{
			http.StatusBadRequest: "Name, email and password are required",
			http.StatusConflict:   "User already exists",
		})
		return
	}
	s.metrics.IncRegistration()
	s.completeLogin(w, r, user)
}

func (s *Server) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	user, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, common.ErrInvalidCredentials) {
			s.metrics.IncFailedLogin()
		}
		s.writeAuthError(w, r, "login", err, map[int]string{
			http.StatusBadRequest:   "Email and password required",
			http.StatusUnauthorized: "Invalid credentials",
		})
		return
	}
	s.metrics.IncLogin()
	s.completeLogin(w, r, user)
}

// writeAuthError answers with the status the error maps to and the message
// registered for it. Internal errors are logged and reported generically.
func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, op string, err error, messages map[int]string) {
	status := common.HTTPStatus(err)
	message, ok := messages[status]
	if !ok || status == http.StatusInternalServerError {
		s.logger.Error(r.Context(), op+" failed", "error", err)
		status, message = http.StatusInternalServerError, "Server error"
	}
	writeMessage(w, status, message)
}

// completeLogin attaches a session and answers with the client user.
func (s *Server) completeLogin(w http.ResponseWriter, r *http.Request, user *storage.User) {
	if _, err := s.sessions.Login(w, r, user); err != nil {
		s.logger.Error(r.Context(), "create session", "user_id", user.ID, "error", err)
		writeMessage(w, http.StatusInternalServerError, "Failed to create session")
		return
	}
	writeJSON(w, http.StatusOK, userResponse{User: toClientUser(user)})
}

func (s *Server) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Logout(w, r); err != nil {
		s.logger.Warn(r.Context(), "logout", "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// HandleUser reports the signed-in user or null. It never fails.
func (s *Server) HandleUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.sessions.CurrentUser(r)
	if err != nil {
		s.logger.Warn(r.Context(), "resolve current user", "error", err)
		user = nil
	}
	writeJSON(w, http.StatusOK, userResponse{User: toClientUser(user)})
}

// decodeBody accepts JSON or URL-encoded form bodies.
func decodeBody(w http.ResponseWriter, r *http.Request, out *credentialsRequest) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer r.Body.Close()
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		var err error
		if mediaType == "multipart/form-data" {
			err = r.ParseMultipartForm(maxBodyBytes)
		} else {
			err = r.ParseForm()
		}
		if err != nil {
			return err
		}
		out.Name = r.PostFormValue("name")
		out.Email = r.PostFormValue("email")
		out.Password = r.PostFormValue("password")
		return nil
	default:
		return decodeJSON(r, out)
	}
}

func decodeJSON(r *http.Request, out interface{}) error {
	err := json.NewDecoder(r.Body).Decode(out)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
