package httpserver

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mkorchagin/offline-shop/internal/repo"
	"github.com/mkorchagin/offline-shop/internal/transport"
	"github.com/mkorchagin/offline-shop/pkg/logging"
)

// CatalogHTTP serves the read-only catalog the client snapshots for offline
// browsing. Thin by design.
type CatalogHTTP struct {
	Repo *repo.GormRepo
}

func (h *CatalogHTTP) ListProducts(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "catalog.products")

	f := repo.ProductFilter{
		Page:       queryInt(c, "page", 1),
		Limit:      queryInt(c, "limit", 20),
		Search:     c.QueryParam("search"),
		CategoryID: c.QueryParam("category"),
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 || f.Limit > 100 {
		f.Limit = 20
	}

	products, total, err := h.Repo.ListProducts(ctx, f)
	if err != nil {
		l.Error("list_products_error", "status", 500, "error", err)
		return err
	}

	pages := int((total + int64(f.Limit) - 1) / int64(f.Limit))
	return c.JSON(http.StatusOK, transport.PaginatedProducts{
		Products: products,
		Pagination: transport.Pagination{
			Page:  f.Page,
			Limit: f.Limit,
			Total: total,
			Pages: pages,
		},
	})
}

func (h *CatalogHTTP) GetProduct(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "catalog.product")

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Product not found"})
	}

	product, err := h.Repo.GetProduct(ctx, id)
	if err != nil {
		l.Error("get_product_error", "status", 500, "error", err)
		return err
	}
	if product == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Product not found"})
	}
	return c.JSON(http.StatusOK, product)
}

func (h *CatalogHTTP) ListCategories(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "catalog.categories")

	categories, err := h.Repo.ListCategories(ctx)
	if err != nil {
		l.Error("list_categories_error", "status", 500, "error", err)
		return err
	}
	return c.JSON(http.StatusOK, categories)
}

func queryInt(c echo.Context, name string, def int) int {
	v := c.QueryParam(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
