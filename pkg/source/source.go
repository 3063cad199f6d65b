// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package source

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/daviszhen/aggrht/pkg/chunk"
	"github.com/daviszhen/aggrht/pkg/common"
	"github.com/daviszhen/aggrht/pkg/parser"
	"github.com/daviszhen/aggrht/pkg/util"
)

// Reader produces batches of a file until io.EOF. Every batch is a new
// chunk.
type Reader interface {
	Read() (*chunk.Chunk, error)
	Names() []string
	Types() []common.LType
	Close() error
}

// Open opens the input described by opts. The schema lists the columns
// of the file in order.
func Open(opts util.InputOptions, batchSize int) (Reader, error) {
	if opts.Path == "" {
		return nil, errors.New("no input path")
	}
	if batchSize <= 0 {
		batchSize = util.DefaultVectorSize
	}
	names, types, err := parser.ParseColumns(opts.Schema)
	if err != nil {
		return nil, errors.Wrap(err, "input schema")
	}
	if len(names) == 0 {
		return nil, errors.New("empty input schema")
	}
	switch strings.ToLower(opts.Format) {
	case "", "csv":
		comma := ','
		if opts.Delimiter != "" {
			comma = []rune(opts.Delimiter)[0]
		}
		return NewCSVReader(opts.Path, comma, opts.HeadLine, names, types, batchSize)
	case "parquet":
		return NewParquetReader(opts.Path, names, types, batchSize)
	default:
		return nil, errors.Newf("unsupported format %q", opts.Format)
	}
}

// fieldToValue converts one text field. An empty field is NULL for
// every type but VARCHAR.
func fieldToValue(field string, lTyp common.LType) (*chunk.Value, error) {
	var err error
	if field == "" && lTyp.Id != common.LTID_VARCHAR {
		return chunk.NullValue(lTyp), nil
	}
	val := &chunk.Value{
		Typ: lTyp,
	}
	switch lTyp.Id {
	case common.LTID_BOOLEAN:
		val.Bool, err = strconv.ParseBool(field)
	case common.LTID_INTEGER:
		val.I64, err = strconv.ParseInt(field, 10, 32)
	case common.LTID_BIGINT:
		val.I64, err = strconv.ParseInt(field, 10, 64)
	case common.LTID_UBIGINT:
		val.U64, err = strconv.ParseUint(field, 10, 64)
	case common.LTID_DOUBLE:
		val.F64, err = strconv.ParseFloat(field, 64)
	case common.LTID_DECIMAL:
		val.I64, err = common.ParseDecimal(field, lTyp.Width, lTyp.Scale)
	case common.LTID_VARCHAR:
		val.Str = field
	default:
		return nil, errors.Newf("unsupported type %v", lTyp)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "field %q as %v", field, lTyp)
	}
	return val, nil
}

func parquetColToValue(field any, lTyp common.LType) (*chunk.Value, error) {
	if field == nil {
		return chunk.NullValue(lTyp), nil
	}
	val := &chunk.Value{
		Typ: lTyp,
	}
	switch lTyp.Id {
	case common.LTID_BOOLEAN:
		fVal, ok := field.(bool)
		if !ok {
			return nil, errors.Newf("parquet %T as %v", field, lTyp)
		}
		val.Bool = fVal
	case common.LTID_INTEGER, common.LTID_BIGINT, common.LTID_DECIMAL:
		switch fVal := field.(type) {
		case int32:
			val.I64 = int64(fVal)
		case int64:
			val.I64 = fVal
		case string:
			if lTyp.Id != common.LTID_DECIMAL {
				return nil, errors.Newf("parquet %T as %v", field, lTyp)
			}
			var err error
			val.I64, err = common.ParseDecimal(fVal, lTyp.Width, lTyp.Scale)
			if err != nil {
				return nil, err
			}
		default:
			return nil, errors.Newf("parquet %T as %v", field, lTyp)
		}
	case common.LTID_UBIGINT:
		switch fVal := field.(type) {
		case int64:
			val.U64 = uint64(fVal)
		case uint64:
			val.U64 = fVal
		default:
			return nil, errors.Newf("parquet %T as %v", field, lTyp)
		}
	case common.LTID_DOUBLE:
		switch fVal := field.(type) {
		case float32:
			val.F64 = float64(fVal)
		case float64:
			val.F64 = fVal
		default:
			return nil, errors.Newf("parquet %T as %v", field, lTyp)
		}
	case common.LTID_VARCHAR:
		fVal, ok := field.(string)
		if !ok {
			return nil, errors.Newf("parquet %T as %v", field, lTyp)
		}
		val.Str = fVal
	default:
		return nil, errors.Newf("unsupported type %v", lTyp)
	}
	return val, nil
}
