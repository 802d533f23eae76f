package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"autopilot/internal/models"
	"autopilot/internal/repository"
	"autopilot/internal/service"
)

type BlindSpotHandler struct {
	Service *service.BlindSpots
}

func (h *BlindSpotHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/blindspots")
	group.GET("", h.list)
	group.POST("", h.create)
	group.POST("/seed", h.seed)
	group.POST("/:id/active", h.setActive)
	group.POST("/:id/trigger", h.setTrigger)
	group.DELETE("/:id", h.remove)
}

func (h *BlindSpotHandler) list(c *gin.Context) {
	uid := userID(c)
	if uid == "" {
		Error(c, http.StatusBadRequest, "user id is required", nil)
		return
	}
	var categoryPtr *models.BlindSpotCategory
	if raw := strQueryPtr(c, "category"); raw != nil {
		category := models.BlindSpotCategory(strings.ToLower(*raw))
		categoryPtr = &category
	}
	items, err := h.Service.List(c.Request.Context(), repository.ListBlindSpotsParams{
		UserID:     &uid,
		Category:   categoryPtr,
		ActiveOnly: c.Query("active") == "true",
	})
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, items, nil)
}

// seed installs the guard-railed system defaults for a user. Called once at
// onboarding; repeat calls are no-ops.
func (h *BlindSpotHandler) seed(c *gin.Context) {
	uid := userID(c)
	if uid == "" {
		Error(c, http.StatusBadRequest, "user id is required", nil)
		return
	}
	if err := h.Service.SeedSystemDefaults(c.Request.Context(), uid); err != nil {
		Fail(c, err)
		return
	}
	items, err := h.Service.List(c.Request.Context(), repository.ListBlindSpotsParams{UserID: &uid})
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, items, nil)
}

type createBlindSpotRequest struct {
	Name     string `json:"name"`
	Category string `json:"category"`
}

func (h *BlindSpotHandler) create(c *gin.Context) {
	uid := userID(c)
	if uid == "" {
		Error(c, http.StatusBadRequest, "user id is required", nil)
		return
	}
	var req createBlindSpotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid payload: "+err.Error(), nil)
		return
	}
	item, err := h.Service.Create(c.Request.Context(), uid, strings.TrimSpace(req.Name), models.BlindSpotCategory(req.Category))
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, item, nil)
}

type setActiveRequest struct {
	Active bool `json:"active"`
}

func (h *BlindSpotHandler) setActive(c *gin.Context) {
	uid := userID(c)
	id := uint64Param(c, "id")
	if uid == "" || id == 0 {
		Error(c, http.StatusBadRequest, "user id and blind spot id are required", nil)
		return
	}
	var req setActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid payload: "+err.Error(), nil)
		return
	}
	item, err := h.Service.SetActive(c.Request.Context(), uid, id, req.Active)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, item, nil)
}

type setTriggerRequest struct {
	// Until is RFC3339; empty clears the trigger.
	Until string `json:"until"`
}

func (h *BlindSpotHandler) setTrigger(c *gin.Context) {
	uid := userID(c)
	id := uint64Param(c, "id")
	if uid == "" || id == 0 {
		Error(c, http.StatusBadRequest, "user id and blind spot id are required", nil)
		return
	}
	var req setTriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid payload: "+err.Error(), nil)
		return
	}
	var until *time.Time
	if strings.TrimSpace(req.Until) != "" {
		parsed, err := time.Parse(time.RFC3339, req.Until)
		if err != nil {
			Error(c, http.StatusBadRequest, "until must be RFC3339", nil)
			return
		}
		until = &parsed
	}
	item, err := h.Service.SetTriggeredUntil(c.Request.Context(), uid, id, until)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, item, nil)
}

func (h *BlindSpotHandler) remove(c *gin.Context) {
	uid := userID(c)
	id := uint64Param(c, "id")
	if uid == "" || id == 0 {
		Error(c, http.StatusBadRequest, "user id and blind spot id are required", nil)
		return
	}
	if err := h.Service.Delete(c.Request.Context(), uid, id); err != nil {
		Fail(c, err)
		return
	}
	Ok(c, map[string]any{"id": id, "deleted": true}, nil)
}
