package mongo

import (
	"fmt"
	"math/big"
	"reflect"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsoncodec"
	"go.mongodb.org/mongo-driver/bson/bsonrw"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var tDecimal = reflect.TypeOf(decimal.Decimal{})

// Decimal128 keeps at most 34 significant digits.
const maxDecimal128Digits = 34

// registry returns the default bson registry extended to store decimal.Decimal as Decimal128. Amounts with more
// than 34 significant digits are rounded half away from zero. Numbers and strings are accepted on decode so
// balances written as plain Numbers still load.
func registry() *bsoncodec.Registry {
	rb := bson.NewRegistryBuilder()
	rb.RegisterTypeEncoder(tDecimal, bsoncodec.ValueEncoderFunc(encodeDecimal))
	rb.RegisterTypeDecoder(tDecimal, bsoncodec.ValueDecoderFunc(decodeDecimal))

	return rb.Build()
}

func encodeDecimal(_ bsoncodec.EncodeContext, vw bsonrw.ValueWriter, val reflect.Value) error {
	if !val.IsValid() || val.Type() != tDecimal {
		return bsoncodec.ValueEncoderError{Name: "encodeDecimal", Types: []reflect.Type{tDecimal}, Received: val}
	}

	p, err := toDecimal128(val.Interface().(decimal.Decimal))
	if err != nil {
		return err
	}

	return vw.WriteDecimal128(p)
}

func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	if n := len(new(big.Int).Abs(d.Coefficient()).String()); n > maxDecimal128Digits {
		d = d.Round(-d.Exponent() - int32(n-maxDecimal128Digits))
	}

	p, ok := primitive.ParseDecimal128FromBigInt(d.Coefficient(), int(d.Exponent()))
	if !ok {
		return primitive.Decimal128{}, fmt.Errorf("cannot convert %s to Decimal128: exponent out of range", d)
	}

	return p, nil
}

func decodeDecimal(_ bsoncodec.DecodeContext, vr bsonrw.ValueReader, val reflect.Value) error {
	if !val.CanSet() || val.Type() != tDecimal {
		return bsoncodec.ValueDecoderError{Name: "decodeDecimal", Types: []reflect.Type{tDecimal}, Received: val}
	}

	var (
		d   decimal.Decimal
		err error
	)

	switch t := vr.Type(); t {
	case bsontype.Decimal128:
		var p primitive.Decimal128
		if p, err = vr.ReadDecimal128(); err == nil {
			d, err = decimal.NewFromString(p.String())
		}
	case bsontype.Double:
		var f float64
		if f, err = vr.ReadDouble(); err == nil {
			d = decimal.NewFromFloat(f)
		}
	case bsontype.Int32:
		var i int32
		if i, err = vr.ReadInt32(); err == nil {
			d = decimal.NewFromInt32(i)
		}
	case bsontype.Int64:
		var i int64
		if i, err = vr.ReadInt64(); err == nil {
			d = decimal.NewFromInt(i)
		}
	case bsontype.String:
		var s string
		if s, err = vr.ReadString(); err == nil {
			d, err = decimal.NewFromString(s)
		}
	case bsontype.Null:
		err = vr.ReadNull()
	case bsontype.Undefined:
		err = vr.ReadUndefined()
	default:
		return fmt.Errorf("cannot decode %v into decimal.Decimal", t)
	}

	if err != nil {
		return err
	}

	val.Set(reflect.ValueOf(d))

	return nil
}
