// Package api is the HTTP request layer. Handlers never wait on background
// work: AI endpoints return a task id to poll.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/mohans/helpdesk/asyncx"
	"github.com/mohans/helpdesk/internal/helpdesk"
)

// Dispatcher is the slice of the dispatch facade used by the handlers.
type Dispatcher interface {
	SubmitGenerateReply(ctx context.Context, ticketID string) (string, error)
	SubmitSummarize(ctx context.Context, ticketID string) (string, error)
	GetStatus(ctx context.Context, taskID string) (asyncx.TaskStatus, error)
}

type Handler struct {
	store      helpdesk.Store
	dispatcher Dispatcher
	log        logrus.FieldLogger
}

func NewHandler(store helpdesk.Store, dispatcher Dispatcher, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{store: store, dispatcher: dispatcher, log: log}
}

// NewRouter mounts every route. metrics may be nil.
func NewRouter(h *Handler, metrics http.Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(h.log))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}

	tickets := r.Group("/tickets")
	tickets.GET("", h.listTickets)
	tickets.POST("", h.createTicket)
	tickets.GET("/:ticket_id", h.getTicket)
	tickets.PATCH("/:ticket_id", h.updateTicket)
	tickets.DELETE("/:ticket_id", h.deleteTicket)

	conversations := r.Group("/conversations")
	conversations.GET("/:ticket_id", h.listMessages)
	conversations.POST("/:ticket_id", h.addMessage)

	gpt := r.Group("/gpt")
	gpt.POST("/auto-reply/:ticket_id", h.autoReply)
	gpt.POST("/summarize/:ticket_id", h.summarize)
	gpt.GET("/tasks/:task_id", h.taskStatus)

	return r
}

func requestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Debug("request handled")
	}
}
