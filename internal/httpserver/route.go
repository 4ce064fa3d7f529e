package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mkorchagin/offline-shop/pkg/logging"
)

type Deps struct {
	Orders    *OrderHTTP
	Cart      *CartHTTP
	Catalog   *CatalogHTTP
	JWTSecret []byte

	// Dev exposes raw error messages on 500s. Off in production.
	Dev bool
}

func Register(e *echo.Echo, d *Deps) {
	e.HTTPErrorHandler = errorHandler(d.Dev)

	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/health/ready", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	cart := e.Group("/cart")
	cart.POST("/validate", d.Cart.ValidateCart)

	orders := e.Group("/orders")
	orders.Use(OptionalAuth(d.JWTSecret))
	orders.POST("", d.Orders.CreateOrder)
	orders.GET("", d.Orders.ListOrders)
	orders.GET("/:id", d.Orders.GetOrder)

	e.GET("/products", d.Catalog.ListProducts)
	e.GET("/products/:id", d.Catalog.GetProduct)
	e.GET("/categories", d.Catalog.ListCategories)
}

// errorHandler funnels unexpected errors into a generic 500 body; echo's own
// HTTPErrors keep their status and message.
func errorHandler(dev bool) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		if he, ok := err.(*echo.HTTPError); ok {
			_ = c.JSON(he.Code, map[string]any{"error": he.Message})
			return
		}

		logging.FromContext(c.Request().Context()).Error("unhandled error", "error", err)
		msg := "internal server error"
		if dev {
			msg = err.Error()
		}
		_ = c.JSON(http.StatusInternalServerError, map[string]any{"error": msg})
	}
}
