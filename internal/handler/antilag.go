package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"autopilot/internal/repository"
	"autopilot/internal/service"
)

type AntiLagHandler struct {
	Monitor *service.AntiLagMonitor
}

func (h *AntiLagHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/antilag")
	group.POST("/samples", h.ingest)
	group.GET("/events", h.list)
}

type antiLagSamplesRequest struct {
	PrimarySymbol    string      `json:"primary_symbol"`
	CorrelatedSymbol string      `json:"correlated_symbol"`
	PrimaryTicks     []time.Time `json:"primary_ticks"`
	CorrelatedTicks  []time.Time `json:"correlated_ticks"`
}

func (h *AntiLagHandler) ingest(c *gin.Context) {
	var req antiLagSamplesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid samples payload: "+err.Error(), nil)
		return
	}
	ev, err := h.Monitor.Ingest(c.Request.Context(), req.PrimarySymbol, req.CorrelatedSymbol, req.PrimaryTicks, req.CorrelatedTicks)
	if err != nil {
		Fail(c, err)
		return
	}
	if ev == nil {
		Ok(c, map[string]any{"detected": false}, nil)
		return
	}
	Ok(c, map[string]any{"detected": true, "event": ev}, nil)
}

func (h *AntiLagHandler) list(c *gin.Context) {
	params := repository.ListAntiLagEventsParams{
		Limit:            intQuery(c, "limit", 50),
		Offset:           intQuery(c, "offset", 0),
		PrimarySymbol:    strQueryPtr(c, "primary_symbol"),
		CorrelatedSymbol: strQueryPtr(c, "correlated_symbol"),
	}
	if raw := strQueryPtr(c, "since"); raw != nil {
		since, err := time.Parse(time.RFC3339, *raw)
		if err != nil {
			Error(c, http.StatusBadRequest, "since must be RFC3339", nil)
			return
		}
		params.Since = &since
	}
	items, err := h.Monitor.List(c.Request.Context(), params)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, items, nil)
}
