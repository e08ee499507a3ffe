package controller

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/guruprasath0306/Silo-Monitor/internal/modules/silos/types"
	"github.com/guruprasath0306/Silo-Monitor/internal/utils"
)

func (c *siloControllerImpl) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		c.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	utils.WriteError(w, status, errorMessage(status, err))
}

func (c *siloControllerImpl) handleTableList(w http.ResponseWriter, r *http.Request) {
	rows, err := c.table.List(r.Context())
	if err != nil {
		c.writeErr(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, rows)
}

// handleTableInsert accepts one row or an array of rows. An array is written in
// one transaction.
func (c *siloControllerImpl) handleTableInsert(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, utils.MaxBodyBytes))
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	if isJSONArray(body) {
		var rows []types.Row
		if err := json.Unmarshal(body, &rows); err != nil {
			utils.WriteError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
			return
		}
		out, err := c.table.InsertMany(r.Context(), rows)
		if err != nil {
			c.writeErr(w, r, err)
			return
		}
		utils.WriteJSON(w, http.StatusCreated, out)
		return
	}

	var row types.Row
	if err := json.Unmarshal(body, &row); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	out, err := c.table.Insert(r.Context(), row)
	if err != nil {
		c.writeErr(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, out)
}

func (c *siloControllerImpl) handleTableUpdate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var patch types.Patch
	if err := utils.DecodeJSON(r, &patch); err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if patch.IsEmpty() {
		utils.WriteError(w, http.StatusBadRequest, "patch has no fields")
		return
	}
	out, err := c.table.Update(r.Context(), id, patch)
	if err != nil {
		c.writeErr(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, out)
}

func (c *siloControllerImpl) handleTableDelete(w http.ResponseWriter, r *http.Request) {
	if err := c.table.Delete(r.Context(), r.PathValue("id")); err != nil {
		c.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *siloControllerImpl) handleTableListActions(w http.ResponseWriter, r *http.Request) {
	siloID := strings.TrimSpace(r.URL.Query().Get("silo_id"))
	if siloID == "" {
		utils.WriteError(w, http.StatusBadRequest, "missing 'silo_id'")
		return
	}
	limit, err := parseActionsLimit(r)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	actions, err := c.table.ListActions(r.Context(), siloID, limit)
	if err != nil {
		c.writeErr(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, actions)
}

func (c *siloControllerImpl) handleTableInsertAction(w http.ResponseWriter, r *http.Request) {
	var action types.Action
	if err := utils.DecodeJSON(r, &action); err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateAction(&action); err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := c.table.InsertAction(r.Context(), action)
	if err != nil {
		c.writeErr(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, out)
}

func validateAction(a *types.Action) error {
	a.SiloID = strings.TrimSpace(a.SiloID)
	if a.SiloID == "" {
		return errors.New("'silo_id' is required")
	}
	kind, err := types.ParseActionKind(string(a.Action))
	if err != nil {
		return err
	}
	a.Action = kind
	return nil
}
