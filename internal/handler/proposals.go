package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"autopilot/internal/models"
	"autopilot/internal/proposal"
	"autopilot/internal/repository"
)

type ProposalHandler struct {
	Machine *proposal.Machine
}

func (h *ProposalHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/proposals")
	group.POST("", h.create)
	group.GET("", h.list)
	group.GET("/:id", h.get)
	group.POST("/:id/acknowledge", h.acknowledge)
	group.POST("/:id/execute", h.execute)
	group.POST("/sweep", h.sweep)
}

func (h *ProposalHandler) create(c *gin.Context) {
	uid := userID(c)
	if uid == "" {
		Error(c, http.StatusBadRequest, "user id is required", nil)
		return
	}
	var sig proposal.Signal
	if err := c.ShouldBindJSON(&sig); err != nil {
		Error(c, http.StatusBadRequest, "invalid signal payload: "+err.Error(), nil)
		return
	}
	item, err := h.Machine.Create(c.Request.Context(), uid, sig)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, item, nil)
}

type acknowledgeRequest struct {
	Decision string `json:"decision"`
	Actor    string `json:"actor"`
}

func (h *ProposalHandler) acknowledge(c *gin.Context) {
	uid := userID(c)
	id := uint64Param(c, "id")
	if uid == "" || id == 0 {
		Error(c, http.StatusBadRequest, "user id and proposal id are required", nil)
		return
	}
	var req acknowledgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid acknowledge payload: "+err.Error(), nil)
		return
	}
	actor := strings.TrimSpace(req.Actor)
	if actor == "" {
		actor = uid
	}
	item, err := h.Machine.Acknowledge(c.Request.Context(), id, uid, proposal.Decision(req.Decision), actor)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, item, nil)
}

func (h *ProposalHandler) execute(c *gin.Context) {
	uid := userID(c)
	id := uint64Param(c, "id")
	if uid == "" || id == 0 {
		Error(c, http.StatusBadRequest, "user id and proposal id are required", nil)
		return
	}
	exec, err := h.Machine.Execute(c.Request.Context(), id, uid, uid)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, exec, nil)
}

func (h *ProposalHandler) get(c *gin.Context) {
	uid := userID(c)
	id := uint64Param(c, "id")
	if uid == "" || id == 0 {
		Error(c, http.StatusBadRequest, "user id and proposal id are required", nil)
		return
	}
	item, events, execs, err := h.Machine.Get(c.Request.Context(), id, uid)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, map[string]any{
		"proposal":   item,
		"events":     events,
		"executions": execs,
	}, nil)
}

func (h *ProposalHandler) list(c *gin.Context) {
	uid := userID(c)
	if uid == "" {
		Error(c, http.StatusBadRequest, "user id is required", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)

	var statusPtr *models.ProposalStatus
	if raw := strQueryPtr(c, "status"); raw != nil {
		status := models.ProposalStatus(strings.ToLower(*raw))
		statusPtr = &status
	}
	orderBy := parseOrder(c.Query("sort_by"), map[string]string{
		"created_at": "created_at",
		"updated_at": "updated_at",
		"expires_at": "expires_at",
	})
	asc := strings.EqualFold(c.Query("order"), "asc")

	params := repository.ListProposalsParams{
		Limit:    limit,
		Offset:   offset,
		UserID:   &uid,
		Status:   statusPtr,
		Strategy: strQueryPtr(c, "strategy"),
		OrderBy:  orderBy,
		Asc:      boolPtr(asc),
	}
	items, total, err := h.Machine.List(c.Request.Context(), params)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

// sweep is the on-demand expiry trigger; the cron job calls the same machine
// operation.
func (h *ProposalHandler) sweep(c *gin.Context) {
	n, err := h.Machine.Expire(c.Request.Context(), time.Time{})
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, map[string]any{"expired": n}, nil)
}
