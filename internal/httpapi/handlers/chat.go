package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/ideagen/backend/internal/chat"
	"github.com/ideagen/backend/internal/common"
	"github.com/ideagen/backend/internal/httpapi/middleware"
)

func userIDFromContext(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(middleware.UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}

// renderChatError maps the chat package sentinels onto the response envelope.
// Anything unrecognized is reported as a generic internal error so upstream
// detail never leaks to clients.
func renderChatError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chat.ErrValidation):
		common.Fail(c, http.StatusBadRequest, 10002, err.Error())
	case errors.Is(err, chat.ErrModerationRejected):
		common.Fail(c, http.StatusBadRequest, 10030, "message rejected by content moderation")
	case errors.Is(err, chat.ErrBudgetExceeded):
		common.Fail(c, http.StatusBadRequest, 10031, "token budget exceeded for the current window")
	case errors.Is(err, chat.ErrNotFound):
		common.Fail(c, http.StatusNotFound, 40401, "not found")
	case errors.Is(err, chat.ErrPermission):
		common.Fail(c, http.StatusForbidden, 40301, "forbidden")
	case errors.Is(err, chat.ErrUpstream):
		common.Fail(c, http.StatusServiceUnavailable, 50301, "model provider unavailable")
	case errors.Is(err, chat.ErrConflict):
		common.Fail(c, http.StatusConflict, 40901, "session busy, retry")
	default:
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
	}
}

type startChatReq struct {
	IdeaID *uint64 `json:"idea_id"`
}

// StartChat opens a session, or returns the caller's existing one. A body
// without idea_id starts the free-form session.
func (h *Handler) StartChat(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req startChatReq
	_ = c.ShouldBindJSON(&req) // allow empty {}

	view, err := h.ChatSvc.StartOrResume(c.Request.Context(), uid, req.IdeaID)
	if err != nil {
		renderChatError(c, err)
		return
	}

	common.OK(c, view)
}

type sendMessageReq struct {
	Message string `json:"message" binding:"required"`
}

func (h *Handler) SendMessage(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	sessionID := c.Param("session_id")
	result, err := h.Sender.Send(c.Request.Context(), uid, sessionID, req.Message)
	if err != nil {
		renderChatError(c, err)
		return
	}

	common.OK(c, result)
}

func (h *Handler) GetChatSession(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	view, err := h.ChatSvc.GetSession(c.Request.Context(), uid, c.Param("session_id"))
	if err != nil {
		renderChatError(c, err)
		return
	}

	common.OK(c, view)
}

func (h *Handler) GetOlderMessages(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	page, err := h.ChatSvc.GetOlderMessages(c.Request.Context(), uid, c.Param("session_id"), c.Query("before"), limit)
	if err != nil {
		renderChatError(c, err)
		return
	}

	common.OK(c, page)
}

func (h *Handler) ListIdeaSummaries(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	summaries, err := h.Ideas.ListSummaries(c.Request.Context(), uid)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	common.OK(c, gin.H{"ideas": summaries})
}
