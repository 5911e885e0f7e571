package ledger

import (
	"math/big"

	"github.com/jierlich/paywall/access"
)

// Validator holds the precondition checks for ledger operations. Checks
// never mutate; a failed check aborts the operation before any state change.
type Validator struct {
}

func (v *Validator) Asset(asset *access.Asset) error {
	if asset == nil {
		return access.ErrAssetNotExist
	}
	return nil
}

// Payment requires the attached value to equal the asset's current fee
// exactly, including the zero-fee case where only a zero payment passes.
func (v *Validator) Payment(asset *access.Asset, payment *big.Int) error {
	if payment == nil {
		payment = new(big.Int)
	}
	if payment.Cmp(asset.FeeAmount) != 0 {
		return access.ErrIncorrectFee
	}
	return nil
}

// AssetOwner gates the asset-owner operations. A nonexistent asset fails the
// owner comparison the same way the contract does: no caller matches it.
func (v *Validator) AssetOwner(asset *access.Asset, caller string) error {
	if asset == nil || caller != asset.Owner {
		return access.ErrNotAssetOwner
	}
	return nil
}

func (v *Validator) ContractOwner(owner, caller string) error {
	if caller != owner {
		return access.ErrNotContractOwner
	}
	return nil
}

// ContractOwnerWithdraw is the same gate with the withdraw-specific message.
func (v *Validator) ContractOwnerWithdraw(owner, caller string) error {
	if caller != owner {
		return access.ErrOwnableNotOwner
	}
	return nil
}

func (v *Validator) Fee(fee *big.Int) error {
	if fee.Sign() < 0 {
		return access.ErrIncorrectFee
	}
	return nil
}
