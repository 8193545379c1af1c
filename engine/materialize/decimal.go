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

package materialize

import (
	"math/big"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/decimal128"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/pingcap/modelflow/pkg/errors"
	"github.com/shopspring/decimal"
)

const maxDecimal128Precision = 38

// decimalColumn tracks the digits seen so far in a column declared wider
// than decimal128 can hold.
type decimalColumn struct {
	name      string
	scale     int32
	intDigits int32
	// fracDigits counts fractional digits up to the last non zero one.
	fracDigits int32
}

// target returns the narrowest type holding every value seen so far
// exactly, or float64 if decimal128 can't.
func (c *decimalColumn) target() arrow.DataType {
	if c.intDigits+c.fracDigits > maxDecimal128Precision {
		return arrow.PrimitiveTypes.Float64
	}
	scale := c.scale
	if limit := maxDecimal128Precision - c.intDigits; scale > limit {
		scale = limit
	}
	return &arrow.Decimal128Type{Precision: maxDecimal128Precision, Scale: scale}
}

func (c *decimalColumn) observe(coef *big.Int) {
	digits := strings.TrimPrefix(coef.String(), "-")
	scale := int(c.scale)
	var intDigits, fracDigits int
	if len(digits) > scale {
		intDigits = len(digits) - scale
		fracDigits = len(strings.TrimRight(digits[intDigits:], "0"))
	} else {
		fracDigits = len(strings.TrimRight(strings.Repeat("0", scale-len(digits))+digits, "0"))
	}
	if digits == "0" {
		intDigits, fracDigits = 0, 0
	}
	if int32(intDigits) > c.intDigits {
		c.intDigits = int32(intDigits)
	}
	if int32(fracDigits) > c.fracDigits {
		c.fracDigits = int32(fracDigits)
	}
}

// DecimalNormalizer rewrites decimal columns of a stream into types the
// table format stores without loss. It keeps state across the batches of
// one materialization, so its decisions only ever widen: a decimal128 scale
// only shrinks and float64 is final.
type DecimalNormalizer struct {
	declared *arrow.Schema
	mem      memory.Allocator
	wide     map[int]*decimalColumn
}

// NewDecimalNormalizer creates a normalizer for streams with the declared
// schema.
func NewDecimalNormalizer(declared *arrow.Schema, mem memory.Allocator) *DecimalNormalizer {
	n := &DecimalNormalizer{
		declared: declared,
		mem:      mem,
		wide:     make(map[int]*decimalColumn),
	}
	for i, f := range declared.Fields() {
		if dt, ok := f.Type.(*arrow.Decimal256Type); ok && dt.Precision > maxDecimal128Precision {
			n.wide[i] = &decimalColumn{name: f.Name, scale: dt.Scale}
		}
	}
	return n
}

// Schema returns the output schema given the batches seen so far.
func (n *DecimalNormalizer) Schema() *arrow.Schema {
	fields := make([]arrow.Field, len(n.declared.Fields()))
	for i, f := range n.declared.Fields() {
		f.Type = n.outputType(i, f.Type)
		fields[i] = f
	}
	return arrow.NewSchema(fields, nil)
}

func (n *DecimalNormalizer) outputType(i int, declared arrow.DataType) arrow.DataType {
	if col, ok := n.wide[i]; ok {
		return col.target()
	}
	if dt, ok := declared.(*arrow.Decimal256Type); ok {
		return &arrow.Decimal128Type{Precision: dt.Precision, Scale: dt.Scale}
	}
	return declared
}

// Normalize returns rec with its decimal columns converted. The caller
// releases both records.
func (n *DecimalNormalizer) Normalize(rec arrow.Record) (arrow.Record, error) {
	if !rec.Schema().Equal(n.declared) {
		return nil, errors.ErrSchemaMismatch.GenWithStackByArgs(
			"batch schema " + rec.Schema().String() + " differs from declared " + n.declared.String())
	}

	for i := range n.wide {
		col := rec.Column(i).(*array.Decimal256)
		for j := 0; j < col.Len(); j++ {
			if col.IsValid(j) {
				n.wide[i].observe(col.Value(j).BigInt())
			}
		}
	}

	schema := n.Schema()
	cols := make([]arrow.Array, len(schema.Fields()))
	defer func() {
		for _, c := range cols {
			if c != nil {
				c.Release()
			}
		}
	}()
	for i, f := range schema.Fields() {
		src := rec.Column(i)
		if arrow.TypeEqual(src.DataType(), f.Type) {
			src.Retain()
			cols[i] = src
			continue
		}
		converted, err := n.convert(src.(*array.Decimal256), f)
		if err != nil {
			return nil, err
		}
		cols[i] = converted
	}
	return array.NewRecord(schema, cols, rec.NumRows()), nil
}

func (n *DecimalNormalizer) convert(src *array.Decimal256, f arrow.Field) (arrow.Array, error) {
	from := src.DataType().(*arrow.Decimal256Type).Scale
	switch dt := f.Type.(type) {
	case *arrow.Decimal128Type:
		b := array.NewDecimal128Builder(n.mem, dt)
		defer b.Release()
		b.Reserve(src.Len())
		divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(from-dt.Scale)), nil)
		for j := 0; j < src.Len(); j++ {
			if src.IsNull(j) {
				b.AppendNull()
				continue
			}
			q, r := new(big.Int).QuoRem(src.Value(j).BigInt(), divisor, new(big.Int))
			if r.Sign() != 0 || q.BitLen() > 127 {
				return nil, errors.ErrDecimalRescale.GenWithStackByArgs(f.Name, from, dt.Scale)
			}
			b.Append(decimal128.FromBigInt(q))
		}
		return b.NewArray(), nil
	default:
		b := array.NewFloat64Builder(n.mem)
		defer b.Release()
		b.Reserve(src.Len())
		for j := 0; j < src.Len(); j++ {
			if src.IsNull(j) {
				b.AppendNull()
				continue
			}
			b.Append(decimal.NewFromBigInt(src.Value(j).BigInt(), -from).InexactFloat64())
		}
		return b.NewArray(), nil
	}
}
