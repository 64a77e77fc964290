package migrations

import (
	"context"
	"fmt"

	"github.com/blagoySimandov/transcriptmagic/internal/models"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		_, err := db.NewCreateTable().
			Model((*models.KVEntryDB)(nil)).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create kv_entries table: %w", err)
		}

		_, err = db.NewCreateIndex().
			Model((*models.KVEntryDB)(nil)).
			Index("idx_kv_entries_updated_at").
			Column("updated_at").
			IfNotExists().
			Exec(ctx)
		return err
	}, func(ctx context.Context, db *bun.DB) error {
		_, err := db.NewDropTable().
			Model((*models.KVEntryDB)(nil)).
			IfExists().
			Exec(ctx)
		return err
	})
}
