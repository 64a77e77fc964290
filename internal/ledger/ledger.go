// Package ledger stores device, account, email-index and processed-order
// records in the flat key-value namespace:
//
//	device:{id}                 -> models.DeviceRecord
//	user:{identityID}           -> models.AccountRecord
//	email:{address}             -> identity id
//	order:{provider}:{orderID}  -> models.ProcessedOrder
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/blagoySimandov/transcriptmagic/internal/models"
	"github.com/blagoySimandov/transcriptmagic/internal/store"
)

var (
	ErrDeviceNotFound  = errors.New("device not found")
	ErrAccountNotFound = errors.New("account not found")
	ErrEmailNotIndexed = errors.New("email not indexed")
	ErrOrderNotFound   = errors.New("order not found")
	ErrOrderApplied    = errors.New("order already applied")
)

// ErrSkip returned from a mutate func leaves the record unchanged.
var ErrSkip = store.ErrSkipWrite

type Ledger struct {
	store store.Store
}

func New(s store.Store) *Ledger {
	return &Ledger{store: s}
}

func DeviceKey(deviceID string) string {
	return "device:" + deviceID
}

func AccountKey(identityID string) string {
	return "user:" + identityID
}

func EmailKey(email string) string {
	return "email:" + NormalizeEmail(email)
}

func OrderKey(provider, orderID string) string {
	return "order:" + provider + ":" + orderID
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (l *Ledger) GetDevice(ctx context.Context, deviceID string) (*models.DeviceRecord, error) {
	return get[models.DeviceRecord](ctx, l.store, DeviceKey(deviceID), ErrDeviceNotFound)
}

// UpdateDevice runs mutate under the device key's single writer. found is
// false when the record is being created; the record then only has its ID set.
func (l *Ledger) UpdateDevice(ctx context.Context, deviceID string, mutate func(d *models.DeviceRecord, found bool) error) (*models.DeviceRecord, error) {
	return update(ctx, l.store, DeviceKey(deviceID), func(d *models.DeviceRecord, found bool) error {
		if !found {
			d.ID = deviceID
		}
		return mutate(d, found)
	})
}

func (l *Ledger) GetAccount(ctx context.Context, identityID string) (*models.AccountRecord, error) {
	return get[models.AccountRecord](ctx, l.store, AccountKey(identityID), ErrAccountNotFound)
}

func (l *Ledger) UpdateAccount(ctx context.Context, identityID string, mutate func(a *models.AccountRecord, found bool) error) (*models.AccountRecord, error) {
	return update(ctx, l.store, AccountKey(identityID), mutate)
}

func (l *Ledger) IndexEmail(ctx context.Context, email, identityID string) error {
	if NormalizeEmail(email) == "" {
		return nil
	}
	return l.store.Put(ctx, EmailKey(email), []byte(identityID))
}

func (l *Ledger) LookupEmail(ctx context.Context, email string) (string, error) {
	if NormalizeEmail(email) == "" {
		return "", ErrEmailNotIndexed
	}
	value, err := l.store.Get(ctx, EmailKey(email))
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrEmailNotIndexed
	}
	if err != nil {
		return "", err
	}
	return string(value), nil
}

// MarkOrder records order as processed and reports false when it already was.
func (l *Ledger) MarkOrder(ctx context.Context, order *models.ProcessedOrder) (bool, error) {
	data, err := json.Marshal(order)
	if err != nil {
		return false, err
	}
	return l.store.PutIfAbsent(ctx, OrderKey(order.Provider, order.OrderID), data)
}

func (l *Ledger) UnmarkOrder(ctx context.Context, provider, orderID string) error {
	return l.store.Delete(ctx, OrderKey(provider, orderID))
}

// ApplyOrder marks order as processed, then credits order.Credits to its
// account and runs mutate in the same account update. An order that is
// already marked returns ErrOrderApplied and changes nothing. When the
// account update fails the marker is released so the order can be retried.
func (l *Ledger) ApplyOrder(ctx context.Context, order *models.ProcessedOrder, mutate func(a *models.AccountRecord)) (*models.AccountRecord, error) {
	first, err := l.MarkOrder(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("failed to mark order %s: %w", order.OrderID, err)
	}
	if !first {
		return nil, ErrOrderApplied
	}

	a, err := l.UpdateAccount(ctx, order.AccountID, func(a *models.AccountRecord, found bool) error {
		if !found {
			return ErrAccountNotFound
		}
		a.Credits += order.Credits
		a.UpdatedAt = order.AppliedAt
		if mutate != nil {
			mutate(a)
		}
		return nil
	})
	if err != nil {
		if unmarkErr := l.UnmarkOrder(ctx, order.Provider, order.OrderID); unmarkErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to release order marker: %w", unmarkErr))
		}
		return nil, fmt.Errorf("failed to grant credits for order %s: %w", order.OrderID, err)
	}
	return a, nil
}

func (l *Ledger) GetOrder(ctx context.Context, provider, orderID string) (*models.ProcessedOrder, error) {
	return get[models.ProcessedOrder](ctx, l.store, OrderKey(provider, orderID), ErrOrderNotFound)
}

func get[T any](ctx context.Context, s store.Store, key string, notFound error) (*T, error) {
	data, err := s.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}

	record := new(T)
	if err := json.Unmarshal(data, record); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return record, nil
}

func update[T any](ctx context.Context, s store.Store, key string, mutate func(*T, bool) error) (*T, error) {
	var result *T
	err := s.Update(ctx, key, func(current []byte, found bool) ([]byte, error) {
		record := new(T)
		if found {
			if err := json.Unmarshal(current, record); err != nil {
				return nil, fmt.Errorf("failed to decode %s: %w", key, err)
			}
		}
		result = record

		if err := mutate(record, found); err != nil {
			return nil, err
		}
		return json.Marshal(record)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
