package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mkorchagin/offline-shop/internal/service"
	"github.com/mkorchagin/offline-shop/internal/transport"
	"github.com/mkorchagin/offline-shop/pkg/logging"
)

type CartHTTP struct {
	Svc *service.CartService
}

func (h *CartHTTP) ValidateCart(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "cart.validate")

	var req transport.ValidateCartRequest
	if err := c.Bind(&req); err != nil {
		l.Warn("validate_cart_error", "status", 400, "error", err)
		return c.JSON(http.StatusBadRequest, transport.ValidationErrorResponse{Error: "invalid body"})
	}
	if details := req.Validate(); len(details) > 0 {
		l.Warn("validate_cart_error", "status", 400, "reason", "validation")
		return c.JSON(http.StatusBadRequest, transport.ValidationErrorResponse{
			Error:   "Validation error",
			Details: details,
		})
	}

	resp, err := h.Svc.ValidateCart(ctx, req.Items)
	if err != nil {
		l.Error("validate_cart_error", "status", 500, "error", err)
		return err
	}

	l.Info("validate_cart_done", "has_changes", resp.HasChanges)
	return c.JSON(http.StatusOK, resp)
}
