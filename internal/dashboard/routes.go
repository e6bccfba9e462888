package dashboard

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/davidhoung2/helpbot/internal/models"
	"github.com/davidhoung2/helpbot/internal/outcome"
	"github.com/davidhoung2/helpbot/internal/pipeline"
	"github.com/davidhoung2/helpbot/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// registerRoutes sets up all dashboard routes on the Gin router.
func registerRoutes(router *gin.Engine, opts StartOpts) {
	svc := opts.Service

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if opts.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	api := router.Group("/api")
	api.GET("/dispatches", handleList(svc))
	api.DELETE("/dispatches/:id", handleDelete(svc))
	api.PATCH("/dispatches/:id", handleEdit(svc))
	api.POST("/dispatches/purge", handlePurge(svc))
	api.POST("/messages", handleMessage(svc))
	api.GET("/events", handleSSE(svc, opts.PollInterval))
}

// dispatchJSON is the wire form of a stored dispatch.
type dispatchJSON struct {
	ID            uint      `json:"id"`
	Date          string    `json:"date"`
	Key           string    `json:"key"`
	VehicleID     string    `json:"vehicle_id,omitempty"`
	TaskName      string    `json:"task_name,omitempty"`
	VehicleStatus string    `json:"vehicle_status,omitempty"`
	Commander     string    `json:"commander"`
	Driver        string    `json:"driver"`
	Validation    string    `json:"validation"`
	ChannelID     string    `json:"channel_id,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func toJSON(d models.Dispatch) dispatchJSON {
	return dispatchJSON{
		ID:            d.ID,
		Date:          d.DispatchDate,
		Key:           d.EffectiveKey,
		VehicleID:     d.VehicleID,
		TaskName:      d.TaskName,
		VehicleStatus: d.VehicleStatus,
		Commander:     d.Commander,
		Driver:        d.Driver,
		Validation:    d.Validation,
		ChannelID:     d.ChannelID,
		UpdatedAt:     d.UpdatedAt,
	}
}

// signalJSON is the wire form of an outcome signal.
type signalJSON struct {
	Kind             string   `json:"kind"`
	Silent           bool     `json:"silent"`
	CreatedIDs       []uint   `json:"created_ids,omitempty"`
	DuplicateIDs     []uint   `json:"duplicate_ids,omitempty"`
	UnconfirmedTasks []string `json:"unconfirmed_tasks,omitempty"`
	BadExprs         []string `json:"bad_exprs,omitempty"`
	Examples         []string `json:"examples,omitempty"`
	Warnings         []string `json:"warnings,omitempty"`
	Cancelled        int      `json:"cancelled,omitempty"`
}

func signalToJSON(s outcome.Signal) signalJSON {
	return signalJSON{
		Kind:             s.Kind.String(),
		Silent:           s.Silent(),
		CreatedIDs:       s.CreatedIDs,
		DuplicateIDs:     s.DuplicateIDs,
		UnconfirmedTasks: s.UnconfirmedTasks,
		BadExprs:         s.BadExprs,
		Examples:         s.Examples,
		Warnings:         s.Warnings,
		Cancelled:        s.Cancelled,
	}
}

func handleList(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		recs, err := svc.ListActive(c.Request.Context(), c.Query("channel"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		out := make([]dispatchJSON, 0, len(recs))
		for _, d := range recs {
			out = append(out, toJSON(d))
		}
		c.JSON(http.StatusOK, gin.H{"dispatches": out})
	}
}

func handleDelete(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c)
		if !ok {
			return
		}
		if err := svc.DeleteByID(c.Request.Context(), id); err != nil {
			abortWithError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

type editRequest struct {
	Field string `json:"field" binding:"required"`
	Value string `json:"value" binding:"required"`
}

func handleEdit(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c)
		if !ok {
			return
		}
		var req editRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		d, err := svc.EditField(c.Request.Context(), id, req.Field, req.Value)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, toJSON(*d))
	}
}

func handlePurge(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := svc.PurgeNow(c.Request.Context())
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"purged": n})
	}
}

type messageRequest struct {
	MessageID  string `json:"message_id"`
	ChannelID  string `json:"channel_id"`
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name"`
	Text       string `json:"text" binding:"required"`
}

// handleMessage ingests a message posted by a webhook the same way the chat
// bridge does, and returns the outcome signal instead of rendering it.
func handleMessage(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req messageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		sig, err := svc.HandleMessage(c.Request.Context(), pipeline.Message{
			ID:         req.MessageID,
			ChannelID:  req.ChannelID,
			SenderID:   req.SenderID,
			SenderName: req.SenderName,
			Text:       req.Text,
		})
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, signalToJSON(sig))
	}
}

func paramID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if err != nil || id == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "id must be a positive integer"})
		return 0, false
	}
	return uint(id), true
}

// abortWithError maps pipeline and store errors onto HTTP statuses.
func abortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrKeyCollision):
		status = http.StatusConflict
	case errors.Is(err, pipeline.ErrUnknownField), errors.Is(err, pipeline.ErrBadValue):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrIncomplete):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}
	c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
