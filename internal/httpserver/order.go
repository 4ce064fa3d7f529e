package httpserver

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mkorchagin/offline-shop/internal/models"
	"github.com/mkorchagin/offline-shop/internal/service"
	"github.com/mkorchagin/offline-shop/internal/transport"
	"github.com/mkorchagin/offline-shop/pkg/logging"
)

type OrderHTTP struct {
	Svc *service.OrderService
}

type orderResponse struct {
	Order       *models.Order `json:"order"`
	Message     string        `json:"message"`
	IsDuplicate bool          `json:"isDuplicate,omitempty"`
}

func (h *OrderHTTP) CreateOrder(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "orders.create")

	var req transport.CreateOrderRequest
	if err := c.Bind(&req); err != nil {
		l.Warn("create_order_error", "status", 400, "error", err)
		return c.JSON(http.StatusBadRequest, transport.ValidationErrorResponse{Error: "invalid body"})
	}
	if details := req.Validate(); len(details) > 0 {
		l.Warn("create_order_error", "status", 400, "reason", "validation")
		return c.JSON(http.StatusBadRequest, transport.ValidationErrorResponse{
			Error:   "Validation error",
			Details: details,
		})
	}

	result, err := h.Svc.CreateOrder(ctx, req, userID(c))
	if err != nil {
		l.Error("create_order_error", "status", 500, "error", err)
		return err
	}

	switch result.Kind {
	case service.OutcomeDuplicate:
		l.Info("create_order_duplicate", "client_action_id", req.ClientActionID)
		return c.JSON(http.StatusOK, orderResponse{
			Order:       result.Order,
			Message:     "Order already processed",
			IsDuplicate: true,
		})
	case service.OutcomeNeedsReconciliation:
		l.Info("create_order_reconciliation", "client_action_id", req.ClientActionID,
			"adjusted", len(result.Delta.AdjustedItems), "removed", len(result.Delta.RemovedItems))
		return c.JSON(http.StatusBadRequest, transport.ReconciliationResponse{
			Error:               "Cart needs reconciliation",
			ReconciliationDelta: *result.Delta,
		})
	case service.OutcomeRejected:
		l.Warn("create_order_rejected", "client_action_id", req.ClientActionID)
		return c.JSON(http.StatusBadRequest, map[string]any{
			"error":        "No valid items in order",
			"removedItems": result.Delta.RemovedItems,
		})
	default:
		l.Info("create_order_success", "order_id", result.Order.ID)
		return c.JSON(http.StatusCreated, orderResponse{
			Order:   result.Order,
			Message: "Order created successfully",
		})
	}
}

func (h *OrderHTTP) ListOrders(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "orders.list")

	uid := c.QueryParam("userId")
	if uid == "" {
		uid = userIDOrEmpty(c)
	}

	orders, err := h.Svc.ListOrders(ctx, uid, c.QueryParam("email"))
	if err != nil {
		l.Error("list_orders_error", "status", 500, "error", err)
		return err
	}
	return c.JSON(http.StatusOK, orders)
}

func (h *OrderHTTP) GetOrder(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "orders.get")

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Order not found"})
	}

	order, err := h.Svc.GetOrder(ctx, id)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Order not found"})
		}
		l.Error("get_order_error", "status", 500, "error", err)
		return err
	}
	return c.JSON(http.StatusOK, order)
}

func userIDOrEmpty(c echo.Context) string {
	if v, ok := c.Get("user_id").(string); ok {
		return v
	}
	return ""
}
