// Package http provides the HTTP handlers and router of the DocKeeper
// service: collection CRUD, token issuance and a health probe.
package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/atinyakov/DocKeeper/internal/auth"
)

// TokenService defines the token operations required by the HTTP handlers.
type TokenService interface {
	// Issue signs a token for username.
	Issue(username string) (string, error)
	// Verify returns the claims of a valid token.
	Verify(token string) (*auth.Claims, error)
}

// AuthHandler handles token issuance and verification requests.
type AuthHandler struct {
	// Tokens signs and checks tokens.
	Tokens TokenService
	Log    *zap.Logger
}

// TokenRequest is the JSON payload for token issuance.
type TokenRequest struct {
	Username string `json:"username"`
}

// VerifyRequest is the JSON payload for token verification.
type VerifyRequest struct {
	Token string `json:"token"`
}

// Issue handles POST /auth/token. The username is embedded in the token
// as given; an absent username yields an empty one.
func (h *AuthHandler) Issue(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	token, err := h.Tokens.Issue(req.Username)
	if err != nil {
		h.Log.Error("token issue failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ok(envelope{"token": token}))
}

// Verify handles POST /auth/verify. A rejected token is reported in the
// body with status 200 and success false.
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	claims, err := h.Tokens.Verify(req.Token)
	if errors.Is(err, auth.ErrNoSecret) {
		h.Log.Error("token verify failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err != nil {
		writeJSON(w, http.StatusOK, envelope{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ok(envelope{
		"decoded": claims,
		"message": "Token is valid!",
	}))
}
