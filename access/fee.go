package access

import (
	"errors"
	"math/big"

	"github.com/shopspring/decimal"
)

// WAD is the fixed-point base for the platform fee rate: a rate of 10^16
// routes 1% of every asset fee to the contract owner.
var WAD = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// SplitFee divides fee between the asset owner and the contract owner.
// contractShare = floor(fee * rate / WAD), ownerShare = fee - contractShare,
// so the two always sum exactly to fee. A rate above WAD would make the
// owner share negative; changeContractFee does not validate the rate
// (matching the contract), so the split rejects it here instead.
func SplitFee(fee, rate *big.Int) (ownerShare, contractShare *big.Int, err error) {
	if rate == nil {
		rate = new(big.Int)
	}
	if rate.Cmp(WAD) > 0 {
		return nil, nil, errors.New("contract fee rate exceeds WAD")
	}
	contractShare = new(big.Int).Mul(fee, rate)
	contractShare.Quo(contractShare, WAD)
	ownerShare = new(big.Int).Sub(fee, contractShare)
	return ownerShare, contractShare, nil
}

// ParseRate converts a decimal fraction string ("0.01" = 1%) to a WAD-scaled
// rate. Fractions finer than 18 decimal places are rejected rather than
// silently truncated.
func ParseRate(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	if d.IsNegative() {
		return nil, errors.New("fee rate is negative")
	}
	scaled := d.Shift(18)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, errors.New("fee rate has more than 18 decimal places")
	}
	return scaled.BigInt(), nil
}

// ParseAmount parses an integer currency amount given as a decimal string.
func ParseAmount(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	if !d.Equal(d.Truncate(0)) {
		return nil, errors.New("amount is not an integer")
	}
	if d.IsNegative() {
		return nil, errors.New("amount is negative")
	}
	return d.BigInt(), nil
}
