package db

import (
	"context"
	"database/sql"

	"github.com/evalgo-org/shardrelay/entity"
	"github.com/evalgo-org/shardrelay/errs"
)

// Scroll opens a forward-only *sql.Rows cursor through GORM's .Rows(),
// scoped to the same transaction every other gormTx method runs against.
// GORM has no dedicated scrollable-cursor API; .Rows() is its documented
// escape hatch for exactly this (stream results without materializing a
// slice), and because this *gorm.DB was opened over a pgx-backed
// *sql.DB (see NewGormSessionGateway), the rows it streams are served by
// pgx underneath, same as every other statement this package issues.
func (t *gormTx) Scroll(ctx context.Context, model interface{}, params entity.ScrollParams) (Cursor, error) {
	tx := t.db.WithContext(ctx).Model(model)
	tx, err := applySelect(tx, params.Criterion, params.QuerySpec, t.shard)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Rows()
	if err != nil {
		return nil, errs.OperationFailed("open scroll cursor on shard "+t.shard, err)
	}
	return &gormCursor{scanDB: tx, rows: rows}, nil
}

// gormCursor implements Cursor over a *sql.Rows produced by gormTx.Scroll.
// scanDB is the *gorm.DB statement that produced rows; GORM needs it back
// on ScanRows to know the column-to-field mapping for the current model.
type gormCursor struct {
	scanDB interface {
		ScanRows(rows *sql.Rows, dest interface{}) error
	}
	rows *sql.Rows
}

func (c *gormCursor) Next(ctx context.Context) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}
	if !c.rows.Next() {
		if err := c.rows.Err(); err != nil {
			return false, errs.OperationFailed("advance scroll cursor", err)
		}
		return false, nil
	}
	return true, nil
}

func (c *gormCursor) Scan(dest interface{}) error {
	if err := c.scanDB.ScanRows(c.rows, dest); err != nil {
		return errs.OperationFailed("scan scroll cursor row", err)
	}
	return nil
}

func (c *gormCursor) Close() error {
	return c.rows.Close()
}
