package controller

import (
	"bytes"
	"context"
	"errors"
	"net/http"

	"opensmartcity-bridge/internal/modules/weather/repository"
	"opensmartcity-bridge/internal/modules/weather/types"
	"opensmartcity-bridge/internal/modules/weather/views"
	"opensmartcity-bridge/internal/utils"
)

type stateResponse struct {
	Thing    string               `json:"thing"`
	Phase    string               `json:"phase"`
	Status   *types.ThingStatus   `json:"status"`
	Channels []types.ChannelState `json:"channels"`
}

// loadState reads status and channels. A missing status is not an error.
func (c *weatherControllerImpl) loadState(ctx context.Context) (stateResponse, error) {
	resp := stateResponse{
		Thing:    c.thingID,
		Phase:    c.refresher.Phase().String(),
		Channels: []types.ChannelState{},
	}

	status, err := c.repository.GetStatus(ctx)
	switch {
	case err == nil:
		resp.Status = &status
	case errors.Is(err, repository.ErrNoStatus):
	default:
		return stateResponse{}, err
	}

	channels, err := c.repository.GetChannelStates(ctx)
	if err != nil {
		return stateResponse{}, err
	}
	if channels != nil {
		resp.Channels = channels
	}
	return resp, nil
}

func (c *weatherControllerImpl) handleStatusPage(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	state, err := c.loadState(r.Context())
	if err != nil {
		c.logger.Error("status page: load state failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to load state")
		return
	}

	data := &views.StatusPageData{
		ThingID:  state.Thing,
		Phase:    state.Phase,
		Channels: state.Channels,
	}
	if state.Status != nil {
		data.Status = state.Status.Status
		data.Detail = state.Status.Detail
		data.UpdatedAt = state.Status.UpdatedAt
	}

	var buf bytes.Buffer
	if err := views.RenderStatusPage(&buf, data); err != nil {
		c.logger.Error("status page render failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to render page")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := buf.WriteTo(w); err != nil {
		c.logger.Debug("status page write failed", "error", err)
	}
}

func (c *weatherControllerImpl) handleState(w http.ResponseWriter, r *http.Request) {
	state, err := c.loadState(r.Context())
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.WriteJSON(w, http.StatusOK, state)
}

func (c *weatherControllerImpl) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !c.refresher.Refresh(r.Context()) {
		utils.WriteError(w, http.StatusConflict, "refresh skipped: handler not running or cycle in flight")
		return
	}
	state, err := c.loadState(r.Context())
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.WriteJSON(w, http.StatusOK, state)
}
