package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/reqtrace/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/reqtrace/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/reqtrace/internal/telemetry"
)

// FieldUser is declared on every root span and filled by /hello.
const FieldUser = "app.user"

// ErrUpstream is what /fail reports.
var ErrUpstream = errors.New("upstream dependency unavailable")

const maxWorkDelay = 5 * time.Second

// Handlers serves the demo routes.
type Handlers struct {
	dispatcher *telemetry.Dispatcher
	metrics    *monitoring.Metrics
	log        *zap.Logger
}

// Health reports liveness.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Hello greets the caller and records who it was on the root span.
func (h *Handlers) Hello(c *gin.Context) {
	name := c.Param("name")
	if span, ok := tracing.RootSpan(c); ok {
		_ = span.Record(FieldUser, name)
	}
	h.log.Info("greeting user", telemetry.ZapSpan(c.Request.Context()), zap.String("user", name))

	rid, _ := tracing.RequestID(c)
	c.JSON(http.StatusOK, gin.H{
		"message":    fmt.Sprintf("hello, %s", name),
		"request_id": rid.String(),
	})
}

// Fail reports an internal error through the normal gin error path.
func (h *Handlers) Fail(c *gin.Context) {
	err := fmt.Errorf("load profile: %w", ErrUpstream)
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// Work runs a child span for ?delay= milliseconds and finishes follow-up
// work in the background on a clone of the root span.
func (h *Handlers) Work(c *gin.Context) {
	delay, err := strconv.Atoi(c.DefaultQuery("delay", "10"))
	if err != nil || delay < 0 {
		_ = c.Error(fmt.Errorf("invalid delay %q", c.Query("delay")))
		c.JSON(http.StatusBadRequest, gin.H{"error": "delay must be a non-negative integer"})
		return
	}
	wait := time.Duration(delay) * time.Millisecond
	if wait > maxWorkDelay {
		wait = maxWorkDelay
	}

	ctx, span := h.dispatcher.StartSpan(c.Request.Context(), "work",
		telemetry.WithTarget("app"),
		telemetry.WithFields(telemetry.Duration("delay", wait), telemetry.Declare("completed")),
	)
	defer span.Release()

	select {
	case <-time.After(wait):
		_ = span.Record("completed", true)
	case <-ctx.Done():
		_ = span.Record("completed", false)
		_ = c.Error(ctx.Err())
		return
	}

	if root, ok := tracing.RootSpan(c); ok {
		background := root.Clone()
		go func() {
			defer background.Release()
			background.Event(telemetry.DebugLevel, "follow-up work finished")
		}()
	}

	c.JSON(http.StatusOK, gin.H{"waited_ms": wait.Milliseconds()})
}

// Stats returns the request totals as JSON.
func (h *Handlers) Stats(c *gin.Context) {
	if h.metrics == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "metrics disabled"})
		return
	}
	c.JSON(http.StatusOK, h.metrics.Snapshot())
}
