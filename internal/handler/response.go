package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"autopilot/internal/gateway"
	"autopilot/internal/proposal"
	"autopilot/internal/service"
)

type apiResponse struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    any            `json:"data,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

func Ok(c *gin.Context, data any, meta map[string]any) {
	c.JSON(http.StatusOK, apiResponse{
		Code:    0,
		Message: "ok",
		Data:    data,
		Meta:    meta,
	})
}

func Error(c *gin.Context, status int, message string, meta map[string]any) {
	c.JSON(status, apiResponse{
		Code:    status,
		Message: message,
		Meta:    meta,
	})
}

// Fail maps pipeline errors onto HTTP statuses. Precondition conflicts are
// 409, risk blocks 422, gateway trouble 502, everything unrecognized 500.
func Fail(c *gin.Context, err error) {
	var verr *proposal.ValidationError
	var berr *proposal.BlockedError
	var gerr *gateway.Error

	switch {
	case errors.As(err, &verr):
		Error(c, http.StatusBadRequest, verr.Msg, nil)
	case errors.Is(err, proposal.ErrNotFound), errors.Is(err, service.ErrBlindSpotNotFound):
		Error(c, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, proposal.ErrAlreadyDecided),
		errors.Is(err, proposal.ErrAlreadyTerminal),
		errors.Is(err, proposal.ErrExpired),
		errors.Is(err, proposal.ErrNotApproved),
		errors.Is(err, service.ErrGuardRailed):
		Error(c, http.StatusConflict, err.Error(), nil)
	case errors.As(err, &berr):
		Error(c, http.StatusUnprocessableEntity, berr.Reason, map[string]any{"check": berr.Check})
	case errors.Is(err, gateway.ErrContractNotFound):
		Error(c, http.StatusUnprocessableEntity, err.Error(), nil)
	case errors.As(err, &gerr):
		Error(c, http.StatusBadGateway, gerr.Message, nil)
	default:
		Error(c, http.StatusInternalServerError, err.Error(), nil)
	}
}
