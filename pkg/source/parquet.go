package source

import (
	"io"

	"github.com/cockroachdb/errors"
	"github.com/xitongsys/parquet-go-source/local"
	pqReader "github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/source"

	"github.com/daviszhen/aggrht/pkg/chunk"
	"github.com/daviszhen/aggrht/pkg/common"
)

// ParquetReader reads the leading columns of a parquet file. Column i of
// the schema is leaf column i of the file.
type ParquetReader struct {
	_file      source.ParquetFile
	_reader    *pqReader.ParquetReader
	_names     []string
	_types     []common.LType
	_batchSize int
	_remaining int64
}

func NewParquetReader(
	path string,
	names []string,
	types []common.LType,
	batchSize int,
) (*ParquetReader, error) {
	file, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, err
	}
	reader, err := pqReader.NewParquetColumnReader(file, 1)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	return &ParquetReader{
		_file:      file,
		_reader:    reader,
		_names:     names,
		_types:     types,
		_batchSize: batchSize,
		_remaining: reader.GetNumRows(),
	}, nil
}

func (reader *ParquetReader) Names() []string {
	return reader._names
}

func (reader *ParquetReader) Types() []common.LType {
	return reader._types
}

func (reader *ParquetReader) Read() (*chunk.Chunk, error) {
	if reader._remaining <= 0 {
		return nil, io.EOF
	}
	maxCnt := min(int64(reader._batchSize), reader._remaining)
	output := chunk.NewChunk(reader._types, int(maxCnt))
	rowCount := -1
	for j := range reader._types {
		values, _, _, err := reader._reader.ReadColumnByIndex(int64(j), maxCnt)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		if rowCount < 0 {
			rowCount = len(values)
		} else if len(values) != rowCount {
			return nil, errors.Newf("column %d has %d values, previous columns %d", j, len(values), rowCount)
		}
		vec := output.Data[j]
		for i := 0; i < len(values); i++ {
			val, err := parquetColToValue(values[i], vec.Typ())
			if err != nil {
				return nil, errors.Wrapf(err, "column %s", reader._names[j])
			}
			vec.SetValue(i, val)
		}
	}
	if rowCount <= 0 {
		reader._remaining = 0
		return nil, io.EOF
	}
	reader._remaining -= int64(rowCount)
	output.SetCard(rowCount)
	return output, nil
}

func (reader *ParquetReader) Close() error {
	reader._reader.ReadStop()
	return reader._file.Close()
}
