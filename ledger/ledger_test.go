package ledger

import (
	"context"
	"database/sql"
	"github.com/bmizerany/assert"
	"github.com/chararch/batchdeployer/file"
	"github.com/chararch/batchdeployer/schema"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"path/filepath"
	"testing"
	"time"
)

func TestMapFieldSet(t *testing.T) {
	item, err := MapFieldSet(file.NewFieldSet(FieldNames, []string{"acc-1", "12.3400", "2024-02-29 23:59:58"}))
	assert.Equal(t, nil, err)
	txn := item.(*Transaction)
	assert.Equal(t, "acc-1", txn.Account)
	assert.T(t, txn.Amount.Equal(decimal.RequireFromString("12.34")))
	assert.Equal(t, time.Date(2024, 2, 29, 23, 59, 58, 0, time.Local), txn.Timestamp)
	assert.Equal(t, "acc-1 12.34 2024-02-29 23:59:58", txn.String())

	bad := [][]string{
		{"", "1", "2024-01-01 00:00:00"},
		{"acc", "one", "2024-01-01 00:00:00"},
		{"acc", "1", "2024/01/01"},
	}
	for _, values := range bad {
		_, err = MapFieldSet(file.NewFieldSet(FieldNames, values))
		assert.NotEqual(t, nil, err)
	}
}

func openDB(t *testing.T) *sql.DB {
	dsn := filepath.Join(t.TempDir(), "ledger.db")
	if _, err := schema.Migrate(schema.DialectSQLite, dsn); err != nil {
		t.Fatalf("migrate failed: %+v", err)
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func count(t *testing.T, db *sql.DB) int {
	var n int
	if err := db.QueryRow("select count(*) from ledger_transaction").Scan(&n); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	return n
}

func TestWriter_Write(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	writer, err := NewWriter("")
	assert.Equal(t, nil, err)
	assert.Equal(t, DefaultTable, writer.Table())

	items := []interface{}{
		&Transaction{Account: "a", Amount: decimal.RequireFromString("1.50"), Timestamp: time.Now()},
		Transaction{Account: "b", Amount: decimal.RequireFromString("-2.25"), Timestamp: time.Now()},
	}
	tx, _ := db.BeginTx(ctx, nil)
	assert.Equal(t, nil, writer.Write(ctx, tx, items))
	assert.Equal(t, nil, tx.Commit())
	assert.Equal(t, 2, count(t, db))

	var account, amount string
	err = db.QueryRow("select account, amount from ledger_transaction where account='b'").Scan(&account, &amount)
	assert.Equal(t, nil, err)
	assert.T(t, decimal.RequireFromString(amount).Equal(decimal.RequireFromString("-2.25")))

	tx, _ = db.BeginTx(ctx, nil)
	assert.Equal(t, nil, writer.Write(ctx, tx, items))
	assert.Equal(t, nil, tx.Rollback())
	assert.Equal(t, 2, count(t, db))

	tx, _ = db.BeginTx(ctx, nil)
	assert.NotEqual(t, nil, writer.Write(ctx, tx, []interface{}{"not a transaction"}))
	tx.Rollback()
}

func TestNewWriter_InvalidTable(t *testing.T) {
	_, err := NewWriter("ledger; drop table x")
	assert.NotEqual(t, nil, err)
}
