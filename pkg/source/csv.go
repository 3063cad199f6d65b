package source

import (
	"encoding/csv"
	"io"
	"os"

	"github.com/cockroachdb/errors"

	"github.com/daviszhen/aggrht/pkg/chunk"
	"github.com/daviszhen/aggrht/pkg/common"
)

type CSVReader struct {
	_file      *os.File
	_reader    *csv.Reader
	_names     []string
	_types     []common.LType
	_batchSize int
	_line      int
}

func NewCSVReader(
	path string,
	comma rune,
	headLine bool,
	names []string,
	types []common.LType,
	batchSize int,
) (*CSVReader, error) {
	file, err := os.OpenFile(path, os.O_RDONLY, 0755)
	if err != nil {
		return nil, err
	}
	ret := &CSVReader{
		_file:      file,
		_reader:    csv.NewReader(file),
		_names:     names,
		_types:     types,
		_batchSize: batchSize,
	}
	ret._reader.Comma = comma
	ret._reader.FieldsPerRecord = -1
	if headLine {
		if _, err = ret._reader.Read(); err != nil && err != io.EOF {
			_ = file.Close()
			return nil, err
		}
		ret._line++
	}
	return ret, nil
}

func (reader *CSVReader) Names() []string {
	return reader._names
}

func (reader *CSVReader) Types() []common.LType {
	return reader._types
}

func (reader *CSVReader) Read() (*chunk.Chunk, error) {
	output := chunk.NewChunk(reader._types, reader._batchSize)
	rowCount := 0
	for i := 0; i < reader._batchSize; i++ {
		line, err := reader._reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		reader._line++
		if len(line) < len(reader._types) {
			return nil, errors.Newf("line %d: expect %d fields, got %d",
				reader._line, len(reader._types), len(line))
		}
		for j, typ := range reader._types {
			val, err := fieldToValue(line[j], typ)
			if err != nil {
				return nil, errors.Wrapf(err, "line %d column %s", reader._line, reader._names[j])
			}
			output.Data[j].SetValue(i, val)
		}
		rowCount++
	}
	if rowCount == 0 {
		return nil, io.EOF
	}
	output.SetCard(rowCount)
	return output, nil
}

func (reader *CSVReader) Close() error {
	reader._reader = nil
	return reader._file.Close()
}
