package postgres

import (
	"database/sql"
	"time"

	pg "github.com/code-payments/receipt-validator/database/postgres"
	"github.com/code-payments/receipt-validator/iap"
)

const recordTable = `"receipt_validations"`

// Schema creates the tables used by the store.
const Schema = `
CREATE TABLE IF NOT EXISTS ` + recordTable + ` (
	"receiptId"   TEXT        PRIMARY KEY,
	"type"        SMALLINT    NOT NULL,
	"productId"   TEXT        NOT NULL DEFAULT '',
	"bundleId"    TEXT        NOT NULL DEFAULT '',
	"environment" SMALLINT    NOT NULL,
	"status"      INTEGER     NOT NULL,
	"expiresAt"   TIMESTAMPTZ NULL,
	"createdAt"   TIMESTAMPTZ NOT NULL
);
`

const recordColumns = `"receiptId", "type", "productId", "bundleId", "environment", "status", "expiresAt", "createdAt"`

type recordModel struct {
	ReceiptID   string       `db:"receiptId"`
	Type        int          `db:"type"`
	ProductID   string       `db:"productId"`
	BundleID    string       `db:"bundleId"`
	Environment int          `db:"environment"`
	Status      int          `db:"status"`
	ExpiresAt   sql.NullTime `db:"expiresAt"`
	CreatedAt   time.Time    `db:"createdAt"`
}

func toModel(r *iap.Record) *recordModel {
	m := &recordModel{
		ReceiptID:   pg.Encode(r.ReceiptID, pg.Hex),
		Type:        int(r.Type),
		ProductID:   r.ProductID,
		BundleID:    r.BundleID,
		Environment: int(r.Environment),
		Status:      r.Status,
		CreatedAt:   r.CreatedAt.UTC(),
	}
	if r.ExpiresAt != nil {
		m.ExpiresAt = sql.NullTime{Time: r.ExpiresAt.UTC(), Valid: true}
	}
	return m
}

func fromModel(m *recordModel) (*iap.Record, error) {
	receiptID, err := pg.Decode(m.ReceiptID)
	if err != nil {
		return nil, err
	}

	r := &iap.Record{
		ReceiptID:   receiptID,
		Type:        iap.IntentType(m.Type),
		ProductID:   m.ProductID,
		BundleID:    m.BundleID,
		Environment: iap.Environment(m.Environment),
		Status:      m.Status,
		CreatedAt:   m.CreatedAt,
	}
	if m.ExpiresAt.Valid {
		expiresAt := m.ExpiresAt.Time
		r.ExpiresAt = &expiresAt
	}
	return r, nil
}
