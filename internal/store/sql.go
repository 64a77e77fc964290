package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/blagoySimandov/transcriptmagic/internal/models"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// SQLStore keeps the namespace in the kv_entries table. It works on the
// Postgres and SQLite dialects.
type SQLStore struct {
	db *bun.DB
}

func NewSQLStore(db *bun.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) InitializeDatabase(ctx context.Context) error {
	_, err := s.db.NewCreateTable().
		Model((*models.KVEntryDB)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create kv_entries table: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, error) {
	row := new(models.KVEntryDB)
	err := s.db.NewSelect().
		Model(row).
		Where("entry_key = ?", key).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.Value, nil
}

func (s *SQLStore) Put(ctx context.Context, key string, value []byte) error {
	now := time.Now()
	row := &models.KVEntryDB{Key: key, Value: value, CreatedAt: now, UpdatedAt: now}
	_, err := s.db.NewInsert().
		Model(row).
		On("CONFLICT (entry_key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (s *SQLStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			return s.updateInTx(ctx, tx, key, fn)
		})
		switch {
		case err == nil, errors.Is(err, ErrSkipWrite):
			return nil
		case errors.Is(err, ErrConflict):
			continue
		default:
			return err
		}
	}
	return fmt.Errorf("sql update %s: %w", key, ErrConflict)
}

func (s *SQLStore) updateInTx(ctx context.Context, tx bun.Tx, key string, fn UpdateFunc) error {
	row := new(models.KVEntryDB)
	q := tx.NewSelect().
		Model(row).
		Where("entry_key = ?", key)
	if s.db.Dialect().Name() == dialect.PG {
		q = q.For("UPDATE")
	}

	found := true
	if err := q.Scan(ctx); errors.Is(err, sql.ErrNoRows) {
		found = false
	} else if err != nil {
		return err
	}

	var current []byte
	if found {
		current = row.Value
	}
	next, err := fn(current, found)
	if err != nil {
		return err
	}

	now := time.Now()
	if found {
		_, err = tx.NewUpdate().
			Model((*models.KVEntryDB)(nil)).
			Set("value = ?", next).
			Set("updated_at = ?", now).
			Where("entry_key = ?", key).
			Exec(ctx)
		return err
	}

	// Two writers can both miss the row; the loser retries and sees the winner's value.
	res, err := tx.NewInsert().
		Model(&models.KVEntryDB{Key: key, Value: next, CreatedAt: now, UpdatedAt: now}).
		On("CONFLICT (entry_key) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrConflict
	}
	return nil
}

func (s *SQLStore) PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	now := time.Now()
	res, err := s.db.NewInsert().
		Model(&models.KVEntryDB{Key: key, Value: value, CreatedAt: now, UpdatedAt: now}).
		On("CONFLICT (entry_key) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.NewDelete().
		Model((*models.KVEntryDB)(nil)).
		Where("entry_key = ?", key).
		Exec(ctx)
	return err
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
