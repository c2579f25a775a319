package ledger

import (
	"context"
	"database/sql"
	"github.com/pkg/errors"
	"regexp"
	"strings"
)

// DefaultTable destination table of transactions
const DefaultTable = "ledger_transaction"

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Writer insert transactions with a single multi-row statement in the caller's transaction
type Writer struct {
	table string
}

// NewWriter writer into table, DefaultTable when empty
func NewWriter(table string) (*Writer, error) {
	if table == "" {
		table = DefaultTable
	}
	if !identifier.MatchString(table) {
		return nil, errors.Errorf("invalid table name: %v", table)
	}
	return &Writer{table: table}, nil
}

func (w *Writer) Table() string {
	return w.table
}

func (w *Writer) Write(ctx context.Context, tx *sql.Tx, items []interface{}) error {
	if len(items) == 0 {
		return nil
	}
	placeholders := make([]string, 0, len(items))
	args := make([]interface{}, 0, len(items)*3)
	for _, item := range items {
		var txn *Transaction
		switch v := item.(type) {
		case *Transaction:
			txn = v
		case Transaction:
			txn = &v
		default:
			return errors.Errorf("unexpected item type %T", item)
		}
		placeholders = append(placeholders, "(?, ?, ?)")
		args = append(args, txn.Account, txn.Amount, txn.Timestamp)
	}
	query := "insert into " + w.table + "(account, amount, txn_timestamp) values " + strings.Join(placeholders, ", ")
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrapf(err, "insert %v transactions into %v", len(items), w.table)
	}
	return nil
}
