package mongo

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

type balance struct {
	Amount decimal.Decimal `bson:"amount"`
}

func TestDecimalCodec(t *testing.T) {
	r := registry()

	b, err := bson.MarshalWithRegistry(r, balance{Amount: decimal.RequireFromString("1234.000000000000000001")})
	require.NoError(t, err)
	assert.Equal(t, bsontype.Decimal128, bson.Raw(b).Lookup("amount").Type)

	var got balance
	require.NoError(t, bson.UnmarshalWithRegistry(r, b, &got))
	assert.Equal(t, "1234.000000000000000001", got.Amount.String())
}

func TestDecimalCodecRounding(t *testing.T) {
	r := registry()

	for in, want := range map[string]string{
		// 18 decimals of a large uint256 amount
		"1234567890123456789012.123456789012345678": "1234567890123456789012.123456789012",
		"1234567890123456789012345678901234567890":  "1234567890123456789012345678901235000000",
		"-0.1234567890123456789012345678901234567":  "-0.1234567890123456789012345678901235",
		"9999999999999999999999999999999999.5":      "10000000000000000000000000000000000",
		"0.000000000000000001":                      "0.000000000000000001",
	} {
		b, err := bson.MarshalWithRegistry(r, balance{Amount: decimal.RequireFromString(in)})
		require.NoError(t, err, in)

		var got balance
		require.NoError(t, bson.UnmarshalWithRegistry(r, b, &got), in)
		assert.Equal(t, want, got.Amount.String(), in)
	}
}

func TestDecimalFromLegacyTypes(t *testing.T) {
	r := registry()

	for _, tc := range []struct {
		in   interface{}
		want string
	}{
		{2.5, "2.5"},
		{int32(7), "7"},
		{int64(9), "9"},
		{"0.1", "0.1"},
		{nil, "0"},
	} {
		b, err := bson.Marshal(bson.M{"amount": tc.in})
		require.NoError(t, err)

		var got balance
		require.NoError(t, bson.UnmarshalWithRegistry(r, b, &got), tc.in)
		assert.Equal(t, tc.want, got.Amount.String())
	}

	b, _ := bson.Marshal(bson.M{"amount": true})
	assert.Error(t, bson.UnmarshalWithRegistry(r, b, &balance{}))
}
