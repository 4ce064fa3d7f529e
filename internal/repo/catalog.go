package repo

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mkorchagin/offline-shop/internal/models"
)

type ProductFilter struct {
	Page       int
	Limit      int
	Search     string
	CategoryID string
}

func (r *GormRepo) GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var p models.Product
	if err := r.DB.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (r *GormRepo) ListProducts(ctx context.Context, f ProductFilter) ([]models.Product, int64, error) {
	q := r.DB.WithContext(ctx).Model(&models.Product{})

	if f.CategoryID != "" {
		q = q.Where("category_id = ?", f.CategoryID)
	}
	if f.Search != "" {
		pattern := "%" + f.Search + "%"
		q = q.Where("name LIKE ? OR description LIKE ?", pattern, pattern)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order := "created_at DESC"
	if f.Search != "" {
		order = "name ASC"
	}

	var products []models.Product
	err := q.Order(order).
		Limit(f.Limit).
		Offset((f.Page - 1) * f.Limit).
		Find(&products).Error
	if err != nil {
		return nil, 0, err
	}
	return products, total, nil
}

func (r *GormRepo) ListCategories(ctx context.Context) ([]models.Category, error) {
	var categories []models.Category
	if err := r.DB.WithContext(ctx).Order("name ASC").Find(&categories).Error; err != nil {
		return nil, err
	}
	return categories, nil
}

// DecrementStock performs the conditional "decrement if enough stock" update.
// Returns false when the product is gone or stock is below qty; nothing is
// changed in that case.
func (r *GormRepo) DecrementStock(ctx context.Context, id uuid.UUID, qty int) (bool, error) {
	res := r.DB.WithContext(ctx).Model(&models.Product{}).
		Where("id = ? AND stock >= ?", id, qty).
		Update("stock", gorm.Expr("stock - ?", qty))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// IncrementStock is the compensation for DecrementStock.
func (r *GormRepo) IncrementStock(ctx context.Context, id uuid.UUID, qty int) error {
	return r.DB.WithContext(ctx).Model(&models.Product{}).
		Where("id = ?", id).
		Update("stock", gorm.Expr("stock + ?", qty)).Error
}
