// Package store is the key-value namespace the ledgers live in.
//
// Every read-modify-write goes through Update, which each backend serializes
// per key (keyed lock, WATCH/MULTI, or SELECT ... FOR UPDATE). Callers never
// implement their own Get-then-Put sequences.
package store

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("key not found")
	// ErrSkipWrite returned from an UpdateFunc leaves the stored value untouched.
	ErrSkipWrite = errors.New("skip write")
	ErrConflict  = errors.New("too many concurrent writers")
)

// UpdateFunc receives the current value and returns the value to store.
// It can run more than once when a backend retries after a conflict, so it
// must not have side effects outside its closure.
type UpdateFunc func(current []byte, found bool) ([]byte, error)

type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Update(ctx context.Context, key string, fn UpdateFunc) error
	// PutIfAbsent writes value only when key does not exist yet and reports
	// whether it did.
	PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

const maxUpdateAttempts = 5
