package models

import (
	"time"

	"github.com/uptrace/bun"
)

type KVEntryDB struct {
	bun.BaseModel `bun:"table:kv_entries,alias:kv"`

	Key       string    `bun:"entry_key,pk" json:"key"`
	Value     []byte    `bun:"value,notnull" json:"value"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`
}
