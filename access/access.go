package access

import (
	"errors"
	"math/big"
)

// Error kinds, matched with errors.Is. The message strings on the canned
// errors below are part of the API contract and must not change.
var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

var (
	ErrAssetNotExist    = &Error{kind: ErrNotFound, msg: "Asset does not exist"}
	ErrIncorrectFee     = &Error{kind: ErrInvalidAmount, msg: "Incorrect fee amount"}
	ErrNotAssetOwner    = &Error{kind: ErrUnauthorized, msg: "Only the asset owner can call this function"}
	ErrNotContractOwner = &Error{kind: ErrUnauthorized, msg: "caller is not the owner"}
	ErrOwnableNotOwner  = &Error{kind: ErrUnauthorized, msg: "Ownable: caller is not the owner"}
	ErrNoAssetFunds     = &Error{kind: ErrInsufficientBalance, msg: "No funds to withdraw for this asset"}
	ErrNoContractFunds  = &Error{kind: ErrInsufficientBalance, msg: "No funds to withdraw"}
)

type Error struct {
	kind error
	msg  string
}

func (e *Error) Error() string { return e.msg }
func (e *Error) Unwrap() error { return e.kind }

// Asset is one fee-gated record. Ids are assigned sequentially from 1 and
// never reused. FeeAmount is in the smallest currency unit.
type Asset struct {
	Id        uint64   `json:"id"`
	Owner     string   `json:"owner"`
	FeeAmount *big.Int `json:"feeAmount"`
}

// Grant records one successful paid (or zero-fee) access grant. Re-granting
// the same (asset, grantee) pair produces a new record and charges again.
type Grant struct {
	Seq           uint64   `json:"seq"`
	AssetId       uint64   `json:"assetId"`
	Grantee       string   `json:"grantee"`
	Payer         string   `json:"payer"`
	Amount        *big.Int `json:"amount"`
	OwnerShare    *big.Int `json:"ownerShare"`
	ContractShare *big.Int `json:"contractShare"`
	Timestamp     int64    `json:"timestamp"`
}

type AssetCreatedEvent struct {
	AssetId   uint64 `json:"assetId"`
	Owner     string `json:"owner"`
	Timestamp int64  `json:"timestamp"`
}

// ContractState is the global ledger state persisted alongside the asset
// registry: admin identity, fee rate, id/seq counters and the platform
// balance tier.
type ContractState struct {
	ContractOwner       string   `json:"contractOwner"`
	ContractFee         *big.Int `json:"contractFee"`
	NextAssetId         uint64   `json:"nextAssetId"`
	GrantCount          uint64   `json:"grantCount"`
	ContractFeesAccrued *big.Int `json:"contractFeesAccrued"`
}
