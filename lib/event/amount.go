package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// DefaultDecimals is the decimal exponent of native-style amounts (wei).
const DefaultDecimals int32 = 18

// ToTokenUnits converts an amount in base units into token units, ie. 1000000000000000000 with 18 decimals is 1.
func ToTokenUnits(base *big.Int, decimals int32) decimal.Decimal {
	if base == nil {
		return decimal.Zero
	}

	return decimal.NewFromBigInt(base, -decimals)
}

// ParseBaseUnits converts a decimal string in base units into token units. Base units are non-negative integers.
func ParseBaseUnits(s string, decimals int32) (decimal.Decimal, error) {
	base, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: amount %q is not an integer", ErrMalformedPayload, s)
	}

	if base.Sign() < 0 {
		return decimal.Zero, fmt.Errorf("%w: negative amount %q", ErrMalformedPayload, s)
	}

	return ToTokenUnits(base, decimals), nil
}

// BaseUnits is an amount in base units that may be encoded as a JSON string or a JSON number.
type BaseUnits string

// UnmarshalJSON accepts "1000" and 1000.
func (b *BaseUnits) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}

		*b = BaseUnits(s)

		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}

	*b = BaseUnits(n.String())

	return nil
}
