package controller

import (
	"bytes"
	"net/http"

	"github.com/guruprasath0306/Silo-Monitor/internal/auth"
	"github.com/guruprasath0306/Silo-Monitor/internal/modules/silos/views"
	"github.com/guruprasath0306/Silo-Monitor/internal/utils"
)

func (c *siloControllerImpl) dashboardData(r *http.Request, s auth.Session) (*views.DashboardData, error) {
	silos, err := c.registry.Snapshot(r.Context())
	if err != nil {
		return nil, err
	}
	loadErr := c.registry.Err(r.Context())
	return views.NewDashboardData(s, silos, loadErr, len(c.registry.Pending())), nil
}

func (c *siloControllerImpl) handleDashboardPage(w http.ResponseWriter, r *http.Request) {
	s, ok := auth.FromContext(r.Context())
	if !ok {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	data, err := c.dashboardData(r, s)
	if err != nil {
		c.writeErr(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := views.RenderDashboard(&buf, data); err != nil {
		c.logger.Error("dashboard template render failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to render page")
		return
	}
	c.writeHTML(w, http.StatusOK, buf.Bytes())
}

func (c *siloControllerImpl) handleSiloListPartial(w http.ResponseWriter, r *http.Request) {
	s, ok := auth.FromContext(r.Context())
	if !ok {
		utils.WriteError(w, http.StatusUnauthorized, "sign in required")
		return
	}
	data, err := c.dashboardData(r, s)
	if err != nil {
		c.writeErr(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := views.RenderSiloList(&buf, data); err != nil {
		c.logger.Error("silo list partial render failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to render")
		return
	}
	c.writeHTML(w, http.StatusOK, buf.Bytes())
}

func (c *siloControllerImpl) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.FromContext(r.Context()); ok {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	c.renderLogin(w, http.StatusOK, views.NewLoginData("", "", ""))
}

func (c *siloControllerImpl) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, utils.MaxBodyBytes)
	if err := r.ParseForm(); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "invalid form")
		return
	}
	email, role := r.PostForm.Get("email"), r.PostForm.Get("role")
	s, err := auth.Login(email, r.PostForm.Get("password"), role)
	if err != nil {
		c.renderLogin(w, http.StatusUnauthorized, views.NewLoginData(email, role, err.Error()))
		return
	}
	if _, err := c.startSession(w, s); err != nil {
		c.writeErr(w, r, err)
		return
	}
	c.logger.Info("signed in", "email", s.Email, "role", s.Role)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (c *siloControllerImpl) handleLogoutForm(w http.ResponseWriter, r *http.Request) {
	auth.ClearSessionCookie(w)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (c *siloControllerImpl) renderLogin(w http.ResponseWriter, status int, data *views.LoginData) {
	var buf bytes.Buffer
	if err := views.RenderLogin(&buf, data); err != nil {
		c.logger.Error("login template render failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to render page")
		return
	}
	c.writeHTML(w, status, buf.Bytes())
}

func (c *siloControllerImpl) writeHTML(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		c.logger.Error("write response failed", "error", err)
	}
}
