package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"autopilot/internal/service"
)

type SettingsHandler struct {
	Service *service.Settings
}

func (h *SettingsHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/settings")
	group.GET("", h.get)
	group.PATCH("", h.update)
}

func (h *SettingsHandler) get(c *gin.Context) {
	uid := userID(c)
	if uid == "" {
		Error(c, http.StatusBadRequest, "user id is required", nil)
		return
	}
	item, err := h.Service.Get(c.Request.Context(), uid)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, item, nil)
}

func (h *SettingsHandler) update(c *gin.Context) {
	uid := userID(c)
	if uid == "" {
		Error(c, http.StatusBadRequest, "user id is required", nil)
		return
	}
	var patch service.SettingsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		Error(c, http.StatusBadRequest, "invalid settings payload: "+err.Error(), nil)
		return
	}
	item, err := h.Service.Update(c.Request.Context(), uid, patch)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, item, nil)
}
