package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"floor-sync/internal/gateway"
	"floor-sync/internal/models"
	"floor-sync/internal/service"
	"floor-sync/internal/statemachine"
	"floor-sync/internal/store"
	"floor-sync/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// StaffHeader carries the acting staff member's ID; authentication happens upstream
const StaffHeader = "X-Staff-ID"

// Pinger is a dependency checked by the readiness probe
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	tableService *service.TableService
	orderService *service.OrderService
	callService  *service.WaiterCallService
	gateway      *gateway.Gateway
	readiness    map[string]Pinger
	logger       *zap.Logger
}

// NewHandler creates a new HTTP handler. gw may be nil when sessions are served elsewhere.
func NewHandler(tables *service.TableService, orders *service.OrderService, calls *service.WaiterCallService, gw *gateway.Gateway) *Handler {
	return &Handler{
		tableService: tables,
		orderService: orders,
		callService:  calls,
		gateway:      gw,
		readiness:    make(map[string]Pinger),
		logger:       util.GetLogger(),
	}
}

// AddReadinessCheck registers a dependency for /ready
func (h *Handler) AddReadinessCheck(name string, p Pinger) {
	h.readiness[name] = p
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if h.gateway != nil {
		router.GET("/ws", gin.WrapF(h.gateway.ServeWS))
	}

	v1 := router.Group("/api/v1")
	{
		v1.GET("/tables/:id", h.getTable)
		v1.DELETE("/tables/:id", h.deleteTable)
		v1.PATCH("/tables/:id/status", h.updateTableStatus)
		v1.POST("/tables/:id/free", h.freeTable)
		v1.GET("/tables/:id/session", h.currentSession)
		v1.GET("/tables/:id/sessions", h.sessionHistory)

		v1.GET("/orders/:id", h.getOrder)
		v1.GET("/orders/:id/transitions", h.orderTransitions)
		v1.PATCH("/orders/:id/status", h.updateOrderStatus)

		v1.POST("/waiter-calls/:id/acknowledge", h.acknowledgeCall)
		v1.POST("/waiter-calls/:id/resolve", h.resolveCall)

		r := v1.Group("/restaurants/:rid")
		{
			r.GET("/tables", h.listTables)
			r.POST("/orders", h.createOrder)
			r.GET("/orders", h.listOrders)
			r.GET("/orders/count", h.countOrders)
			r.POST("/waiter-calls", h.createCall)
			r.GET("/waiter-calls", h.callHistory)
			r.GET("/waiter-calls/active", h.activeCalls)
		}
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every registered dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, p := range h.readiness {
		if err := p.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not ready",
			"details": failed,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) getTable(c *gin.Context) {
	id, ok := pathID(c, "id", "Invalid table ID")
	if !ok {
		return
	}

	table, err := h.tableService.GetTable(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, "Failed to get table", err)
		return
	}
	c.JSON(http.StatusOK, table)
}

func (h *Handler) deleteTable(c *gin.Context) {
	id, ok := pathID(c, "id", "Invalid table ID")
	if !ok {
		return
	}

	if err := h.tableService.DeleteTable(c.Request.Context(), id); err != nil {
		h.writeError(c, "Failed to delete table", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) listTables(c *gin.Context) {
	rid, ok := pathID(c, "rid", "Invalid restaurant ID")
	if !ok {
		return
	}

	tables, err := h.tableService.ListTables(c.Request.Context(), rid)
	if err != nil {
		h.writeError(c, "Failed to list tables", err)
		return
	}
	c.JSON(http.StatusOK, tables)
}

func (h *Handler) updateTableStatus(c *gin.Context) {
	id, ok := pathID(c, "id", "Invalid table ID")
	if !ok {
		return
	}

	var req service.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	table, err := h.tableService.UpdateStatus(c.Request.Context(), id, &req, actor(c))
	if err != nil {
		h.writeError(c, "Failed to update table status", err)
		return
	}
	c.JSON(http.StatusOK, table)
}

func (h *Handler) freeTable(c *gin.Context) {
	id, ok := pathID(c, "id", "Invalid table ID")
	if !ok {
		return
	}

	table, session, err := h.tableService.Free(c.Request.Context(), id, actor(c))
	if err != nil {
		h.writeError(c, "Failed to free table", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"table":   table,
		"session": session,
	})
}

func (h *Handler) currentSession(c *gin.Context) {
	id, ok := pathID(c, "id", "Invalid table ID")
	if !ok {
		return
	}

	session, err := h.tableService.CurrentSession(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, "Failed to get table session", err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *Handler) sessionHistory(c *gin.Context) {
	id, ok := pathID(c, "id", "Invalid table ID")
	if !ok {
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	sessions, total, err := h.tableService.SessionHistory(c.Request.Context(), id, page, limit)
	if err != nil {
		h.writeError(c, "Failed to get session history", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"total":    total,
		"page":     page,
	})
}

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	rid, ok := pathID(c, "rid", "Invalid restaurant ID")
	if !ok {
		return
	}

	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	resp, err := h.orderService.CreateOrder(c.Request.Context(), rid, &req, actor(c))
	if err != nil {
		h.writeError(c, "Failed to create order", err)
		return
	}

	status := http.StatusCreated
	if resp.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, resp)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	id, ok := pathID(c, "id", "Invalid order ID")
	if !ok {
		return
	}

	order, err := h.orderService.GetOrder(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, "Failed to get order", err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) orderTransitions(c *gin.Context) {
	id, ok := pathID(c, "id", "Invalid order ID")
	if !ok {
		return
	}

	transitions, err := h.orderService.Transitions(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, "Failed to get order transitions", err)
		return
	}
	c.JSON(http.StatusOK, transitions)
}

type orderStatusRequest struct {
	Status models.OrderStatus `json:"status" binding:"required"`
}

func (h *Handler) updateOrderStatus(c *gin.Context) {
	id, ok := pathID(c, "id", "Invalid order ID")
	if !ok {
		return
	}

	var req orderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	order, err := h.orderService.UpdateStatus(c.Request.Context(), id, req.Status, actor(c))
	if err != nil {
		h.writeError(c, "Failed to update order status", err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) listOrders(c *gin.Context) {
	rid, ok := pathID(c, "rid", "Invalid restaurant ID")
	if !ok {
		return
	}

	var statuses []models.OrderStatus
	if raw := c.Query("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				statuses = append(statuses, models.OrderStatus(s))
			}
		}
	}

	orders, err := h.orderService.ListByStatus(c.Request.Context(), rid, statuses)
	if err != nil {
		h.writeError(c, "Failed to list orders", err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

func (h *Handler) countOrders(c *gin.Context) {
	rid, ok := pathID(c, "rid", "Invalid restaurant ID")
	if !ok {
		return
	}
	status := models.OrderStatus(c.DefaultQuery("status", string(models.OrderStatusPending)))

	count, err := h.orderService.CountByStatus(c.Request.Context(), rid, status)
	if err != nil {
		h.writeError(c, "Failed to count orders", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": status,
		"count":  count,
	})
}

func (h *Handler) createCall(c *gin.Context) {
	rid, ok := pathID(c, "rid", "Invalid restaurant ID")
	if !ok {
		return
	}

	var req service.CreateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	call, err := h.callService.Create(c.Request.Context(), rid, &req)
	if err != nil {
		h.writeError(c, "Failed to create waiter call", err)
		return
	}
	c.JSON(http.StatusCreated, call)
}

func (h *Handler) acknowledgeCall(c *gin.Context) {
	id, ok := pathID(c, "id", "Invalid waiter call ID")
	if !ok {
		return
	}

	call, err := h.callService.Acknowledge(c.Request.Context(), id, actor(c))
	if err != nil {
		h.writeError(c, "Failed to acknowledge waiter call", err)
		return
	}
	c.JSON(http.StatusOK, call)
}

func (h *Handler) resolveCall(c *gin.Context) {
	id, ok := pathID(c, "id", "Invalid waiter call ID")
	if !ok {
		return
	}

	call, err := h.callService.Resolve(c.Request.Context(), id, actor(c))
	if err != nil {
		h.writeError(c, "Failed to resolve waiter call", err)
		return
	}
	c.JSON(http.StatusOK, call)
}

func (h *Handler) activeCalls(c *gin.Context) {
	rid, ok := pathID(c, "rid", "Invalid restaurant ID")
	if !ok {
		return
	}

	var staffID *int64
	if raw := c.Query("staffId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid staffId"})
			return
		}
		staffID = &id
	}

	calls, err := h.callService.ListActive(c.Request.Context(), rid, staffID)
	if err != nil {
		h.writeError(c, "Failed to list waiter calls", err)
		return
	}
	c.JSON(http.StatusOK, calls)
}

func (h *Handler) callHistory(c *gin.Context) {
	rid, ok := pathID(c, "rid", "Invalid restaurant ID")
	if !ok {
		return
	}

	from, err := queryTime(c, "from")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid from", "details": err.Error()})
		return
	}
	to, err := queryTime(c, "to")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid to", "details": err.Error()})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	calls, err := h.callService.History(c.Request.Context(), rid, from, to, limit)
	if err != nil {
		h.writeError(c, "Failed to get waiter call history", err)
		return
	}
	c.JSON(http.StatusOK, calls)
}

// writeError maps domain errors to status codes
func (h *Handler) writeError(c *gin.Context, message string, err error) {
	var activeCall *store.ActiveCallError
	if errors.As(err, &activeCall) {
		c.JSON(http.StatusConflict, gin.H{
			"error":   message,
			"details": err.Error(),
			"call":    activeCall.Call,
		})
		return
	}

	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(message, zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{
		"error":   message,
		"details": err.Error(),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, statemachine.ErrAlreadyInState),
		errors.Is(err, statemachine.ErrInvalidTransition),
		errors.Is(err, store.ErrTableHasActiveOrders),
		errors.Is(err, store.ErrActiveCallExists),
		errors.Is(err, store.ErrTableUnavailable),
		errors.Is(err, service.ErrRequestInProgress):
		return http.StatusConflict
	case errors.Is(err, statemachine.ErrUnknownStatus),
		errors.Is(err, store.ErrInvalidMenuItem),
		errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func pathID(c *gin.Context, name, message string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": message,
		})
		return 0, false
	}
	return id, true
}

func queryTime(c *gin.Context, name string) (time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}

// actor reads the acting staff ID; requests without one are attributed to 0
func actor(c *gin.Context) int64 {
	id, err := strconv.ParseInt(c.GetHeader(StaffHeader), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
