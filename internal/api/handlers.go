package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mohans/helpdesk/internal/helpdesk"
)

type createTicketRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
}

type addMessageRequest struct {
	Role    string `json:"role" binding:"required"`
	Content string `json:"content" binding:"required"`
	// Timestamp is optional; callers that need causal ordering supply their own.
	Timestamp string `json:"timestamp"`
}

type taskResponse struct {
	TaskID string `json:"task_id"`
}

func (h *Handler) listTickets(c *gin.Context) {
	tickets, err := h.store.List(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, tickets)
}

func (h *Handler) createTicket(c *gin.Context) {
	var req createTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	ticket := helpdesk.NewTicket(req.Title, req.Description)
	if err := h.store.Create(c.Request.Context(), ticket); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, ticket)
}

func (h *Handler) getTicket(c *gin.Context) {
	ticket, err := h.store.Get(c.Request.Context(), c.Param("ticket_id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, ticket)
}

func (h *Handler) updateTicket(c *gin.Context) {
	var patch helpdesk.TicketPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	ticket, err := h.store.Update(c.Request.Context(), c.Param("ticket_id"), patch)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, ticket)
}

func (h *Handler) deleteTicket(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("ticket_id")
	if !h.ticketExists(c, id) {
		return
	}
	if err := h.store.Delete(ctx, id); err != nil {
		respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) listMessages(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("ticket_id")
	if !h.ticketExists(c, id) {
		return
	}
	msgs, err := h.store.ListMessages(ctx, id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

func (h *Handler) addMessage(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("ticket_id")
	var req addMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	msg := helpdesk.NewMessage(req.Role, req.Content)
	if req.Timestamp != "" {
		if _, err := time.Parse(time.RFC3339Nano, req.Timestamp); err != nil {
			respondBadRequest(c, "timestamp must be RFC 3339")
			return
		}
		msg.Timestamp = req.Timestamp
	}
	if err := h.store.AppendMessage(ctx, id, msg); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (h *Handler) autoReply(c *gin.Context) {
	id, err := h.dispatcher.SubmitGenerateReply(c.Request.Context(), c.Param("ticket_id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, taskResponse{TaskID: id})
}

func (h *Handler) summarize(c *gin.Context) {
	id, err := h.dispatcher.SubmitSummarize(c.Request.Context(), c.Param("ticket_id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, taskResponse{TaskID: id})
}

func (h *Handler) taskStatus(c *gin.Context) {
	st, err := h.dispatcher.GetStatus(c.Request.Context(), c.Param("task_id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// ticketExists writes the error response itself when it returns false.
func (h *Handler) ticketExists(c *gin.Context, id string) bool {
	ok, err := h.store.Exists(c.Request.Context(), id)
	if err == nil && !ok {
		err = helpdesk.ErrTicketNotFound
	}
	if err != nil {
		respondServiceError(c, err)
		return false
	}
	return true
}
