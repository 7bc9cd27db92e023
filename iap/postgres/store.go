package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strconv"

	"github.com/jmoiron/sqlx"

	pg "github.com/code-payments/receipt-validator/database/postgres"
	"github.com/code-payments/receipt-validator/iap"
	"github.com/code-payments/receipt-validator/query"
)

type store struct {
	db *sqlx.DB
}

func NewInPostgres(db *sql.DB) iap.Store {
	return &store{
		db: pg.NewDB(db),
	}
}

// CreateSchema applies Schema to db.
func CreateSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, Schema)
	return err
}

func (s *store) reset() {
	_, err := s.db.ExecContext(context.Background(), `DELETE FROM `+recordTable)
	if err != nil {
		panic(err)
	}
}

func (s *store) CreateRecord(ctx context.Context, record *iap.Record) error {
	if len(record.ReceiptID) == 0 {
		return errors.New("receipt id is required")
	}
	if record.Type == iap.IntentUnknown {
		return errors.New("intent type is required")
	}

	m := toModel(record)

	return pg.ExecTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var count int
		q := `SELECT COUNT(*) FROM ` + recordTable + ` WHERE "receiptId" = $1`
		if err := tx.GetContext(ctx, &count, q, m.ReceiptID); err != nil {
			return err
		}
		if count > 0 {
			return iap.ErrExists
		}

		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO `+recordTable+` ("receiptId", "type", "productId", "bundleId", "environment", "status", "expiresAt", "createdAt")
			VALUES (:receiptId, :type, :productId, :bundleId, :environment, :status, :expiresAt, :createdAt)
		`, m)

		// A concurrent insert can still win the race after the check above.
		if pg.IsUniqueViolation(err) {
			return iap.ErrExists
		}
		return err
	})
}

func (s *store) GetRecord(ctx context.Context, receiptID []byte) (*iap.Record, error) {
	var m recordModel
	q := `SELECT ` + recordColumns + ` FROM ` + recordTable + ` WHERE "receiptId" = $1`
	err := s.db.GetContext(ctx, &m, q, pg.Encode(receiptID, pg.Hex))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, iap.ErrNotFound
	} else if err != nil {
		return nil, err
	}

	return fromModel(&m)
}

// Receipt ids are stored hex encoded, so ordering by the column matches the
// byte order of the ids.
func (s *store) GetRecords(ctx context.Context, opts ...query.Option) ([]*iap.Record, error) {
	applied := query.ApplyOptions(opts...)

	op, order := ">", "ASC"
	if applied.Order == query.Descending {
		op, order = "<", "DESC"
	}

	q := `SELECT ` + recordColumns + ` FROM ` + recordTable
	args := []any{}
	if applied.Token != nil {
		q += ` WHERE "receiptId" ` + op + ` $1`
		args = append(args, pg.Encode(applied.Token, pg.Hex))
	}
	q += ` ORDER BY "receiptId" ` + order + ` LIMIT ` + strconv.Itoa(applied.Limit)

	var models []recordModel
	if err := s.db.SelectContext(ctx, &models, q, args...); err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, iap.ErrNotFound
	}

	records := make([]*iap.Record, 0, len(models))
	for i := range models {
		record, err := fromModel(&models[i])
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}
