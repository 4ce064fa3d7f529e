package repo

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mkorchagin/offline-shop/internal/models"
)

func (r *GormRepo) CreateOrder(ctx context.Context, order *models.Order) error {
	return r.DB.WithContext(ctx).Create(order).Error
}

func (r *GormRepo) GetOrderByClientActionID(ctx context.Context, clientActionID string) (*models.Order, error) {
	var order models.Order
	err := r.DB.WithContext(ctx).
		Preload("LineItems").
		First(&order, "client_action_id = ?", clientActionID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (r *GormRepo) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.DB.WithContext(ctx).
		Preload("LineItems").
		First(&order, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// ListOrders filters by userID when set, otherwise by email, newest first.
// No filter means no orders; callers decide whether that is an error.
func (r *GormRepo) ListOrders(ctx context.Context, userID, email string) ([]models.Order, error) {
	q := r.DB.WithContext(ctx).Model(&models.Order{}).Preload("LineItems")

	switch {
	case userID != "" && userID != "anonymous":
		q = q.Where("user_id = ?", userID)
	case email != "":
		q = q.Where("email = ?", email)
	default:
		return []models.Order{}, nil
	}

	var orders []models.Order
	if err := q.Order("created_at DESC").Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}
