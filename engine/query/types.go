// Copyright 2024 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package query

import (
	"database/sql"
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/decimal128"
	"github.com/apache/arrow-go/v18/arrow/decimal256"
	"github.com/pingcap/modelflow/pkg/errors"
	"github.com/shopspring/decimal"
)

const (
	maxDecimal128Precision = 38
	maxDecimal256Precision = 76
	defaultDecimalScale    = 10
)

var (
	decimalSizeRe = regexp.MustCompile(`^\s*\(\s*(\d+)\s*(?:,\s*(\d+)\s*)?\)`)
	timeLayouts   = []string{
		"2006-01-02 15:04:05.999999999",
		time.RFC3339Nano,
		"2006-01-02",
	}
)

// arrowType maps a database column type to an arrow type. An empty database
// type name, which sqlite reports for expressions, maps to nil and is
// inferred from the first value.
func arrowType(ct *sql.ColumnType) (arrow.DataType, error) {
	full := strings.ToUpper(strings.TrimSpace(ct.DatabaseTypeName()))
	name, size := full, ""
	if i := strings.IndexByte(full, '('); i >= 0 {
		name, size = strings.TrimSpace(full[:i]), full[i:]
	}
	unsigned := strings.HasPrefix(name, "UNSIGNED ")
	name = strings.TrimPrefix(name, "UNSIGNED ")

	switch name {
	case "":
		return nil, nil
	case "TINYINT", "SMALLINT", "MEDIUMINT", "INT", "INTEGER", "BIGINT", "INT2", "INT4", "INT8", "YEAR":
		if unsigned && name == "BIGINT" {
			return arrow.PrimitiveTypes.Uint64, nil
		}
		return arrow.PrimitiveTypes.Int64, nil
	case "FLOAT", "DOUBLE", "REAL", "DOUBLE PRECISION":
		return arrow.PrimitiveTypes.Float64, nil
	case "DECIMAL", "NUMERIC":
		precision, scale, ok := ct.DecimalSize()
		if !ok {
			precision, scale = decimalSize(size)
		}
		return decimalType(int32(precision), int32(scale)), nil
	case "BOOL", "BOOLEAN":
		return arrow.FixedWidthTypes.Boolean, nil
	case "DATE":
		return arrow.FixedWidthTypes.Date32, nil
	case "DATETIME", "TIMESTAMP":
		return arrow.FixedWidthTypes.Timestamp_us, nil
	case "CHAR", "VARCHAR", "TEXT", "TINYTEXT", "MEDIUMTEXT", "LONGTEXT", "JSON", "ENUM", "SET", "TIME", "CLOB", "STRING":
		return arrow.BinaryTypes.String, nil
	case "BLOB", "TINYBLOB", "MEDIUMBLOB", "LONGBLOB", "BINARY", "VARBINARY", "BIT":
		return arrow.BinaryTypes.Binary, nil
	}
	return nil, errors.ErrUnsupportedColumnType.GenWithStackByArgs(full, ct.Name())
}

func decimalSize(size string) (int64, int64) {
	m := decimalSizeRe.FindStringSubmatch(size)
	if m == nil {
		return maxDecimal128Precision, defaultDecimalScale
	}
	precision, _ := strconv.ParseInt(m[1], 10, 32)
	var scale int64
	if m[2] != "" {
		scale, _ = strconv.ParseInt(m[2], 10, 32)
	}
	return precision, scale
}

func decimalType(precision, scale int32) arrow.DataType {
	if precision > maxDecimal256Precision {
		precision = maxDecimal256Precision
	}
	if scale > precision {
		scale = precision
	}
	if precision > maxDecimal128Precision {
		return &arrow.Decimal256Type{Precision: precision, Scale: scale}
	}
	return &arrow.Decimal128Type{Precision: precision, Scale: scale}
}

// inferType picks an arrow type from the driver value of an untyped column.
func inferType(v any) arrow.DataType {
	switch v.(type) {
	case int64, int32, int:
		return arrow.PrimitiveTypes.Int64
	case float64, float32:
		return arrow.PrimitiveTypes.Float64
	case bool:
		return arrow.FixedWidthTypes.Boolean
	case time.Time:
		return arrow.FixedWidthTypes.Timestamp_us
	default:
		return arrow.BinaryTypes.String
	}
}

// appendValue appends the driver value v to b, b's type decides the
// conversion.
func appendValue(b array.Builder, v any) error {
	if v == nil {
		b.AppendNull()
		return nil
	}
	switch b := b.(type) {
	case *array.Int64Builder:
		n, err := toInt64(v)
		if err != nil {
			return err
		}
		b.Append(n)
	case *array.Uint64Builder:
		s := toString(v)
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return errors.Trace(err)
		}
		b.Append(n)
	case *array.Float64Builder:
		f, err := toFloat64(v)
		if err != nil {
			return err
		}
		b.Append(f)
	case *array.BooleanBuilder:
		switch x := v.(type) {
		case bool:
			b.Append(x)
		default:
			n, err := toInt64(v)
			if err != nil {
				return err
			}
			b.Append(n != 0)
		}
	case *array.StringBuilder:
		b.Append(toString(v))
	case *array.BinaryBuilder:
		switch x := v.(type) {
		case []byte:
			b.Append(x)
		default:
			b.Append([]byte(toString(v)))
		}
	case *array.TimestampBuilder:
		t, err := toTime(v)
		if err != nil {
			return err
		}
		ts, err := arrow.TimestampFromTime(t.UTC(), arrow.Microsecond)
		if err != nil {
			return errors.Trace(err)
		}
		b.Append(ts)
	case *array.Date32Builder:
		t, err := toTime(v)
		if err != nil {
			return err
		}
		b.Append(arrow.Date32FromTime(t))
	case *array.Decimal128Builder:
		dt := b.Type().(*arrow.Decimal128Type)
		coef, err := decimalCoefficient(v, dt.Scale, 127)
		if err != nil {
			return err
		}
		b.Append(decimal128.FromBigInt(coef))
	case *array.Decimal256Builder:
		dt := b.Type().(*arrow.Decimal256Type)
		coef, err := decimalCoefficient(v, dt.Scale, 255)
		if err != nil {
			return err
		}
		b.Append(decimal256.FromBigInt(coef))
	default:
		return errors.ErrUnsupportedColumnType.GenWithStackByArgs(b.Type().String(), "")
	}
	return nil
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case int64:
		return decimal.NewFromInt(x), nil
	case float64:
		return decimal.NewFromFloat(x), nil
	case []byte:
		return decimal.NewFromString(string(x))
	case string:
		return decimal.NewFromString(x)
	}
	return decimal.NewFromString(toString(v))
}

// decimalCoefficient returns v rounded to scale, as an unscaled integer that
// fits in bits bits plus sign.
func decimalCoefficient(v any, scale int32, bits int) (*big.Int, error) {
	d, err := toDecimal(v)
	if err != nil {
		return nil, errors.Trace(err)
	}
	coef := d.Round(scale).Shift(scale).BigInt()
	if coef.BitLen() > bits {
		return nil, errors.ErrQueryExecute.GenWithStackByArgs(
			fmt.Sprintf("decimal value %s overflows", d.String()))
	}
	return coef, nil
}

func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int32:
		return int64(x), nil
	case int:
		return int64(x), nil
	case float64:
		return int64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	}
	n, err := strconv.ParseInt(toString(v), 10, 64)
	if err != nil {
		return 0, errors.Trace(err)
	}
	return n, nil
}

func toFloat64(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	}
	f, err := strconv.ParseFloat(toString(v), 64)
	if err != nil {
		return 0, errors.Trace(err)
	}
	return f, nil
}

func toTime(v any) (time.Time, error) {
	if t, ok := v.(time.Time); ok {
		return t, nil
	}
	s := toString(v)
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.ErrQueryExecute.GenWithStackByArgs("can't parse time " + s)
}

func toString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	}
	return fmt.Sprint(v)
}
