package file

import (
	"bufio"
	"encoding/csv"
	"github.com/pkg/errors"
	"io"
)

// DelimitedReader FileItemReader of delimited flat files, every record is mapped through Mapper
type DelimitedReader struct {
	//Names field names of a record, in column order
	Names []string
	//Delimiter field separator, comma when zero
	Delimiter rune
	//Header skip the first line of the file
	Header bool
	//Mapper turns a record into an item; the *FieldSet itself is the item when nil
	Mapper FieldSetMapper
}

type delimitedHandle struct {
	locator string
	reader  io.ReadCloser
	cReader *csv.Reader
}

func (r *DelimitedReader) Open(locator string) (interface{}, error) {
	if len(r.Names) == 0 {
		return nil, errors.New("no field names for delimited reader")
	}
	fs, name, err := Locate(locator)
	if err != nil {
		return nil, err
	}
	reader, err := fs.Open(name)
	if err != nil {
		return nil, errors.Wrapf(err, "open %v", locator)
	}
	cReader := csv.NewReader(bufio.NewReader(reader))
	if r.Delimiter != 0 {
		cReader.Comma = r.Delimiter
	}
	cReader.FieldsPerRecord = -1
	cReader.TrimLeadingSpace = true
	handle := &delimitedHandle{locator: locator, reader: reader, cReader: cReader}
	if r.Header {
		if _, err = cReader.Read(); err != nil && err != io.EOF {
			reader.Close()
			return nil, errors.Wrapf(err, "read header of %v", locator)
		}
	}
	return handle, nil
}

func (r *DelimitedReader) Close(handle interface{}) error {
	return handle.(*delimitedHandle).reader.Close()
}

func (r *DelimitedReader) ReadItem(handle interface{}) (interface{}, error) {
	h := handle.(*delimitedHandle)
	record, err := h.cReader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			return nil, &MalformedRecordError{Locator: h.locator, Line: parseErr.StartLine, Err: parseErr.Err}
		}
		return nil, errors.Wrapf(err, "read %v", h.locator)
	}
	line, _ := h.cReader.FieldPos(0)
	if len(record) != len(r.Names) {
		return nil, &MalformedRecordError{Locator: h.locator, Line: line, Err: errors.Errorf("expected %v fields, got %v", len(r.Names), len(record))}
	}
	fs := NewFieldSet(r.Names, record)
	if r.Mapper == nil {
		return fs, nil
	}
	item, err := r.Mapper(fs)
	if err != nil {
		return nil, &MalformedRecordError{Locator: h.locator, Line: line, Err: err}
	}
	return item, nil
}
