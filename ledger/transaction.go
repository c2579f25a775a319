// Package ledger is the destination domain of the import: account transactions stored in SQL.
package ledger

import (
	"fmt"
	"github.com/chararch/batchdeployer/file"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"time"
)

// TimestampLayout layout of the timestamp column of input files
const TimestampLayout = "2006-01-02 15:04:05"

// FieldNames column layout of input files
var FieldNames = []string{"account", "amount", "timestamp"}

// Transaction one account movement
type Transaction struct {
	Account   string
	Amount    decimal.Decimal
	Timestamp time.Time
}

func (t *Transaction) String() string {
	return fmt.Sprintf("%s %s %s", t.Account, t.Amount.String(), t.Timestamp.Format(TimestampLayout))
}

// MapFieldSet build a Transaction from a record laid out as FieldNames
func MapFieldSet(fs *file.FieldSet) (interface{}, error) {
	account, err := fs.ReadString("account")
	if err != nil {
		return nil, err
	}
	if account == "" {
		return nil, errors.New("empty account")
	}
	raw, err := fs.ReadString("amount")
	if err != nil {
		return nil, err
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "field amount")
	}
	timestamp, err := fs.ReadDate("timestamp", TimestampLayout)
	if err != nil {
		return nil, err
	}
	return &Transaction{Account: account, Amount: amount, Timestamp: timestamp}, nil
}

// NewReader delimited reader of transaction files
func NewReader() *file.DelimitedReader {
	return &file.DelimitedReader{
		Names:  FieldNames,
		Mapper: MapFieldSet,
	}
}
