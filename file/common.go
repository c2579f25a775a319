package file

import (
	"fmt"
	"github.com/pkg/errors"
	"strings"
	"time"
)

// FileItemReader reads items from one file resource, identified by its locator
type FileItemReader interface {
	Open(locator string) (handle interface{}, err error)
	Close(handle interface{}) error
	//ReadItem returns a nil item at the end of the file
	ReadItem(handle interface{}) (interface{}, error)
}

// MalformedRecordError a record of the file can not be turned into an item
type MalformedRecordError struct {
	Locator string
	Line    int
	Err     error
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record at %v line %v: %v", e.Locator, e.Line, e.Err)
}

func (e *MalformedRecordError) Unwrap() error {
	return e.Err
}

// IsMalformed whether err is or wraps a MalformedRecordError
func IsMalformed(err error) bool {
	var malformed *MalformedRecordError
	return errors.As(err, &malformed)
}

// FieldSet the named fields of one delimited record
type FieldSet struct {
	names  []string
	values []string
	index  map[string]int
}

// NewFieldSet pair names with values by position
func NewFieldSet(names, values []string) *FieldSet {
	index := make(map[string]int, len(names))
	for i, name := range names {
		index[name] = i
	}
	return &FieldSet{names: names, values: values, index: index}
}

func (fs *FieldSet) Names() []string {
	return fs.names
}

func (fs *FieldSet) Values() []string {
	return fs.values
}

// ReadString the trimmed value of field name
func (fs *FieldSet) ReadString(name string) (string, error) {
	i, ok := fs.index[name]
	if !ok || i >= len(fs.values) {
		return "", errors.Errorf("no field named %v", name)
	}
	return strings.TrimSpace(fs.values[i]), nil
}

// ReadDate parse field name with a time layout, in the local time zone
func (fs *FieldSet) ReadDate(name, layout string) (time.Time, error) {
	val, err := fs.ReadString(name)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.ParseInLocation(layout, val, time.Local)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "field %v", name)
	}
	return t, nil
}

// FieldSetMapper turn a record into an item
type FieldSetMapper func(fs *FieldSet) (interface{}, error)
