package rest

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	mw "github.com/kasuganosora/walkietalkie/server/middleware"
	"github.com/kasuganosora/walkietalkie/server/ptt/call"
	"go.uber.org/zap"
)

// CallHandler exposes the 1:1 call lifecycle.
type CallHandler struct {
	calls  *call.Coordinator
	logger *zap.Logger
}

// NewCallHandler creates a CallHandler.
func NewCallHandler(co *call.Coordinator, logger *zap.Logger) *CallHandler {
	return &CallHandler{calls: co, logger: logger}
}

type callRequest struct {
	CallID         string          `json:"callId"`
	TargetUsername string          `json:"targetUsername"`
	Offer          json.RawMessage `json:"offer"`
	Answer         json.RawMessage `json:"answer"`
}

func (h *CallHandler) bind(c *gin.Context) (*callRequest, bool) {
	var req callRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return nil, false
	}
	return &req, true
}

func (h *CallHandler) reply(c *gin.Context, res *call.Result, err error) {
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Initiate handles POST /api/calls/initiate.
func (h *CallHandler) Initiate(c *gin.Context) {
	req, ok := h.bind(c)
	if !ok {
		return
	}
	res, err := h.calls.Initiate(c.Request.Context(), mw.GetUserID(c), req.TargetUsername, req.Offer)
	h.reply(c, res, err)
}

// Retry handles POST /api/calls/retry.
func (h *CallHandler) Retry(c *gin.Context) {
	req, ok := h.bind(c)
	if !ok {
		return
	}
	res, err := h.calls.Retry(c.Request.Context(), mw.GetUserID(c), req.CallID, req.Offer)
	h.reply(c, res, err)
}

// Answer handles POST /api/calls/answer.
func (h *CallHandler) Answer(c *gin.Context) {
	req, ok := h.bind(c)
	if !ok {
		return
	}
	res, err := h.calls.Answer(c.Request.Context(), mw.GetUserID(c), req.CallID, req.Answer)
	h.reply(c, res, err)
}

// End handles POST /api/calls/end. Unknown call ids are a 404 here.
func (h *CallHandler) End(c *gin.Context) {
	req, ok := h.bind(c)
	if !ok {
		return
	}
	res, err := h.calls.End(c.Request.Context(), mw.GetUserID(c), req.CallID)
	h.reply(c, res, err)
}
