package controller

import (
	"errors"
	"net/http"

	"github.com/guruprasath0306/Silo-Monitor/internal/auth"
	"github.com/guruprasath0306/Silo-Monitor/internal/modules/silos/registry"
	"github.com/guruprasath0306/Silo-Monitor/internal/modules/silos/types"
	"github.com/guruprasath0306/Silo-Monitor/internal/utils"
)

type silosResponse struct {
	Silos   []types.Silo         `json:"silos"`
	Counts  map[types.Status]int `json:"counts"`
	Error   *string              `json:"error"`
	Pending []registry.Write     `json:"pending"`
}

func (c *siloControllerImpl) handleListSilos(w http.ResponseWriter, r *http.Request) {
	silos, err := c.registry.Snapshot(r.Context())
	if err != nil {
		c.writeErr(w, r, err)
		return
	}
	resp := silosResponse{
		Silos:   silos,
		Counts:  types.CountByStatus(silos),
		Pending: c.registry.Pending(),
	}
	if r.URL.Query().Get("sort") == "severity" {
		resp.Silos = types.SortBySeverity(silos)
	}
	loadErr, err := c.loadError(r)
	if err != nil {
		c.writeErr(w, r, err)
		return
	}
	resp.Error = loadErr
	utils.WriteJSON(w, http.StatusOK, resp)
}

func (c *siloControllerImpl) loadError(r *http.Request) (*string, error) {
	loadErr := c.registry.Err(r.Context())
	if loadErr == nil {
		return nil, nil
	}
	if errors.Is(loadErr, registry.ErrClosed) {
		return nil, loadErr
	}
	msg := loadErr.Error()
	return &msg, nil
}

func (c *siloControllerImpl) handleGetSilo(w http.ResponseWriter, r *http.Request) {
	s, err := c.registry.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		c.writeErr(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, s)
}

func (c *siloControllerImpl) handleCreateSilo(w http.ResponseWriter, r *http.Request) {
	var d types.Draft
	if err := utils.DecodeJSON(r, &d); err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	s, err := c.registry.Create(r.Context(), d)
	if err != nil {
		c.writeErr(w, r, err)
		return
	}
	session, _ := auth.FromContext(r.Context())
	c.logger.Info("silo created", "id", s.ID, "name", s.Name, "by", session.Email)
	utils.WriteJSON(w, http.StatusCreated, s)
}

func (c *siloControllerImpl) handleUpdateSilo(w http.ResponseWriter, r *http.Request) {
	var p types.Patch
	if err := utils.DecodeJSON(r, &p); err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if p.IsEmpty() {
		utils.WriteError(w, http.StatusBadRequest, "patch has no fields")
		return
	}
	// last_updated is set by the registry.
	p.LastUpdated = nil
	s, err := c.registry.Update(r.Context(), r.PathValue("id"), p)
	if err != nil {
		c.writeErr(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, s)
}

func (c *siloControllerImpl) handleDeleteSilo(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := c.registry.Delete(r.Context(), id); err != nil {
		c.writeErr(w, r, err)
		return
	}
	session, _ := auth.FromContext(r.Context())
	c.logger.Info("silo deleted", "id", id, "by", session.Email)
	w.WriteHeader(http.StatusNoContent)
}

type actionRequest struct {
	Action string `json:"action"`
}

// handleLogAction records a ventilate/treat action. The write happens in the
// background; its outcome is not reported.
func (c *siloControllerImpl) handleLogAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	kind, err := types.ParseActionKind(req.Action)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	s, err := c.registry.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		c.writeErr(w, r, err)
		return
	}
	c.registry.LogAction(s.ID, kind)
	utils.WriteJSON(w, http.StatusAccepted, map[string]string{"silo_id": s.ID, "action": string(kind)})
}
