// Package store is the client's local durable state: cart, pending actions,
// cached orders and the catalog snapshot, all in one sqlite file that
// survives restarts.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

var allTables = []any{
	&CartItem{}, &PendingAction{}, &Order{}, &Product{}, &Category{}, &schemaInfo{},
}

type Store struct {
	db  *gorm.DB
	log *slog.Logger
}

// Open opens or creates the store at path. A store written at a different
// SchemaVersion is dropped and rebuilt empty: losing stale local-only state
// beats failing to open. Stale in-flight action claims from a previous crash
// are reset to queued.
func Open(path string, log *slog.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrap sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	s := &Store{db: db, log: log}
	if err := s.migrate(); err != nil {
		return nil, err
	}

	err = db.Model(&PendingAction{}).
		Where("status = ?", ActionStatusProcessing).
		Update("status", ActionStatusQueued).Error
	if err != nil {
		return nil, fmt.Errorf("reset stale action claims: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	if s.db.Migrator().HasTable(&schemaInfo{}) {
		var info schemaInfo
		if err := s.db.First(&info, "id = ?", 1).Error; err == nil && info.Version == SchemaVersion {
			return s.db.AutoMigrate(allTables...)
		}

		s.log.Warn("local store schema mismatch, rebuilding from empty",
			"want_version", SchemaVersion)
		if err := s.db.Migrator().DropTable(allTables...); err != nil {
			return fmt.Errorf("drop outdated store: %w", err)
		}
	}

	if err := s.db.AutoMigrate(allTables...); err != nil {
		return fmt.Errorf("migrate local store: %w", err)
	}
	return s.db.Save(&schemaInfo{ID: 1, Version: SchemaVersion}).Error
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Tx runs fn against a transactional view of the store. Multi-collection
// flows that must be all-or-nothing (offline checkout, order confirmation)
// go through here.
func (s *Store) Tx(fn func(tx *Store) error) error {
	return s.db.Transaction(func(g *gorm.DB) error {
		return fn(&Store{db: g, log: s.log})
	})
}

// --- cart ---

func (s *Store) Cart(ctx context.Context) ([]CartItem, error) {
	var items []CartItem
	if err := s.db.WithContext(ctx).Order("product_id").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// AddToCart inserts the item or, when the product is already in the cart,
// increments its quantity and refreshes the cached price/name/image. Returns
// the resulting cart.
func (s *Store) AddToCart(ctx context.Context, item CartItem) ([]CartItem, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing CartItem
		err := tx.First(&existing, "product_id = ?", item.ProductID).Error
		switch {
		case err == nil:
			existing.Quantity += item.Quantity
			existing.Price = item.Price
			existing.Name = item.Name
			existing.ImageURL = item.ImageURL
			return tx.Save(&existing).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(&item).Error
		default:
			return err
		}
	})
	if err != nil {
		return nil, err
	}
	return s.Cart(ctx)
}

func (s *Store) GetCartItem(ctx context.Context, productID string) (*CartItem, error) {
	var item CartItem
	err := s.db.WithContext(ctx).First(&item, "product_id = ?", productID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// PutCartItem overwrites a cart line as-is (used by reconciliation).
func (s *Store) PutCartItem(ctx context.Context, item CartItem) error {
	return s.db.WithContext(ctx).Save(&item).Error
}

// UpdateCartItem sets the quantity, deleting the line when qty <= 0.
func (s *Store) UpdateCartItem(ctx context.Context, productID string, qty int) ([]CartItem, error) {
	db := s.db.WithContext(ctx)
	if qty <= 0 {
		if err := db.Delete(&CartItem{}, "product_id = ?", productID).Error; err != nil {
			return nil, err
		}
	} else {
		err := db.Model(&CartItem{}).
			Where("product_id = ?", productID).
			Update("quantity", qty).Error
		if err != nil {
			return nil, err
		}
	}
	return s.Cart(ctx)
}

func (s *Store) RemoveFromCart(ctx context.Context, productID string) ([]CartItem, error) {
	if err := s.db.WithContext(ctx).Delete(&CartItem{}, "product_id = ?", productID).Error; err != nil {
		return nil, err
	}
	return s.Cart(ctx)
}

func (s *Store) ClearCart(ctx context.Context) error {
	return s.db.WithContext(ctx).Where("1 = 1").Delete(&CartItem{}).Error
}

// --- pending actions ---

func (s *Store) AddPendingAction(ctx context.Context, a *PendingAction) error {
	if a.Status == "" {
		a.Status = ActionStatusQueued
	}
	if a.Timestamp == 0 {
		a.Timestamp = time.Now().UnixMilli()
	}
	return s.db.WithContext(ctx).Create(a).Error
}

// QueuedActions returns replayable actions oldest first.
func (s *Store) QueuedActions(ctx context.Context) ([]PendingAction, error) {
	var actions []PendingAction
	err := s.db.WithContext(ctx).
		Where("status = ?", ActionStatusQueued).
		Order("timestamp ASC").
		Find(&actions).Error
	if err != nil {
		return nil, err
	}
	return actions, nil
}

func (s *Store) ActionsNeedingAttention(ctx context.Context) ([]PendingAction, error) {
	var actions []PendingAction
	err := s.db.WithContext(ctx).
		Where("status = ?", ActionStatusNeedsAttention).
		Order("timestamp ASC").
		Find(&actions).Error
	if err != nil {
		return nil, err
	}
	return actions, nil
}

func (s *Store) GetPendingAction(ctx context.Context, id string) (*PendingAction, error) {
	var a PendingAction
	err := s.db.WithContext(ctx).First(&a, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ClaimAction flips an action from queued to processing. The conditional
// update is the re-entrancy guard: of two overlapping replay passes only one
// sees RowsAffected > 0.
func (s *Store) ClaimAction(ctx context.Context, id string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&PendingAction{}).
		Where("id = ? AND status = ?", id, ActionStatusQueued).
		Update("status", ActionStatusProcessing)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ReleaseAction puts a claimed action back in the queue for a later attempt.
func (s *Store) ReleaseAction(ctx context.Context, id string) error {
	return s.setActionStatus(ctx, id, ActionStatusQueued)
}

func (s *Store) MarkActionNeedsAttention(ctx context.Context, id string) error {
	return s.setActionStatus(ctx, id, ActionStatusNeedsAttention)
}

func (s *Store) setActionStatus(ctx context.Context, id, status string) error {
	return s.db.WithContext(ctx).Model(&PendingAction{}).
		Where("id = ?", id).
		Update("status", status).Error
}

func (s *Store) DeletePendingAction(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&PendingAction{}, "id = ?", id).Error
}

// --- cached orders ---

func (s *Store) SaveOrder(ctx context.Context, o *Order) error {
	return s.db.WithContext(ctx).Save(o).Error
}

func (s *Store) Orders(ctx context.Context) ([]Order, error) {
	var orders []Order
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*Order, error) {
	var o Order
	err := s.db.WithContext(ctx).First(&o, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Store) DeleteOrder(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&Order{}, "id = ?", id).Error
}

// ReplaceOrder atomically swaps the provisional record for the
// server-confirmed one. Same logical order, different id; at no point do both
// exist outside the transaction.
func (s *Store) ReplaceOrder(ctx context.Context, oldID string, o *Order) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&Order{}, "id = ?", oldID).Error; err != nil {
			return err
		}
		return tx.Save(o).Error
	})
}

// --- catalog snapshot ---

func (s *Store) SaveProducts(ctx context.Context, products []Product) error {
	if len(products) == 0 {
		return nil
	}
	db := s.db.WithContext(ctx)
	for i := range products {
		if err := db.Save(&products[i]).Error; err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetCachedProduct(ctx context.Context, id string) (*Product, error) {
	var p Product
	err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) CachedProducts(ctx context.Context) ([]Product, error) {
	var products []Product
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&products).Error; err != nil {
		return nil, err
	}
	return products, nil
}

// ClearProducts drops the catalog snapshot so the next refresh re-fetches
// authoritative stock.
func (s *Store) ClearProducts(ctx context.Context) error {
	return s.db.WithContext(ctx).Where("1 = 1").Delete(&Product{}).Error
}

func (s *Store) SaveCategories(ctx context.Context, categories []Category) error {
	db := s.db.WithContext(ctx)
	for i := range categories {
		if err := db.Save(&categories[i]).Error; err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) CachedCategories(ctx context.Context) ([]Category, error) {
	var categories []Category
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&categories).Error; err != nil {
		return nil, err
	}
	return categories, nil
}
