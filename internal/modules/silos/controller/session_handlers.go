package controller

import (
	"net/http"
	"time"

	"github.com/guruprasath0306/Silo-Monitor/internal/auth"
	"github.com/guruprasath0306/Silo-Monitor/internal/utils"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type sessionResponse struct {
	Email     string    `json:"email"`
	Role      auth.Role `json:"role"`
	CanManage bool      `json:"canManage"`
	CanDelete bool      `json:"canDelete"`
	Token     string    `json:"token,omitempty"`
	ExpiresAt time.Time `json:"expiresAt,omitzero"`
}

func newSessionResponse(s auth.Session) sessionResponse {
	return sessionResponse{Email: s.Email, Role: s.Role, CanManage: s.CanManage(), CanDelete: s.CanDelete()}
}

// startSession issues a token for s and stores it in the session cookie.
func (c *siloControllerImpl) startSession(w http.ResponseWriter, s auth.Session) (sessionResponse, error) {
	token, exp, err := c.codec.Issue(s)
	if err != nil {
		return sessionResponse{}, err
	}
	auth.SetSessionCookie(w, token, exp, c.secure)
	resp := newSessionResponse(s)
	resp.Token = token
	resp.ExpiresAt = exp
	return resp, nil
}

func (c *siloControllerImpl) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	s, err := auth.Login(req.Email, req.Password, req.Role)
	if err != nil {
		utils.WriteError(w, http.StatusUnauthorized, err.Error())
		return
	}
	resp, err := c.startSession(w, s)
	if err != nil {
		c.writeErr(w, r, err)
		return
	}
	c.logger.Info("signed in", "email", s.Email, "role", s.Role)
	utils.WriteJSON(w, http.StatusOK, resp)
}

func (c *siloControllerImpl) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s, _ := auth.FromContext(r.Context())
	utils.WriteJSON(w, http.StatusOK, newSessionResponse(s))
}

func (c *siloControllerImpl) handleLogout(w http.ResponseWriter, r *http.Request) {
	auth.ClearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (c *siloControllerImpl) handleGetCredentials(w http.ResponseWriter, r *http.Request) {
	role, err := auth.ParseRole(r.PathValue("role"))
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	cred, err := c.credentials.Get(r.Context(), role)
	if err != nil {
		c.writeErr(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, cred)
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// handleUpdateCredentials changes a role's login. Changing the caller's own
// role re-issues the session under the new email.
func (c *siloControllerImpl) handleUpdateCredentials(w http.ResponseWriter, r *http.Request) {
	role, err := auth.ParseRole(r.PathValue("role"))
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req credentialsRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	cred, err := c.credentials.Update(r.Context(), role, req.Email, req.Password)
	if err != nil {
		c.writeErr(w, r, err)
		return
	}

	if s, ok := auth.FromContext(r.Context()); ok && s.Role == role {
		if _, err := c.startSession(w, auth.Session{Email: cred.Email, Role: role}); err != nil {
			c.writeErr(w, r, err)
			return
		}
	}
	c.logger.Info("credentials updated", "role", role)
	utils.WriteJSON(w, http.StatusOK, cred)
}

func (c *siloControllerImpl) handleResetCredentials(w http.ResponseWriter, r *http.Request) {
	if err := c.credentials.Reset(r.Context()); err != nil {
		c.writeErr(w, r, err)
		return
	}
	c.logger.Info("credentials reset to defaults")
	w.WriteHeader(http.StatusNoContent)
}
