package database

import (
	"math/big"

	"github.com/jierlich/paywall/access"
)

// Db is the persistence adapter behind the ledger engine. The engine keeps
// the registry and balances in memory and writes through; adapters only need
// durable upserts, point deletes for the engine's rollback paths, and full
// scans for the startup rebuild. Reset empties every table; snapshot restore
// runs it before re-writing so no stale record survives.
type Db interface {
	SaveAsset(asset *access.Asset) error
	GetAsset(id uint64) (*access.Asset, error)
	GetAssetList() ([]*access.Asset, error)
	DeleteAsset(id uint64) error

	SaveAccess(assetId uint64, address string) error
	HasAccess(assetId uint64, address string) (bool, error)
	GetAccessList() ([]*AccessRecord, error)
	DeleteAccess(assetId uint64, address string) error

	SaveGrant(grant *access.Grant) error
	GetGrantList(assetId uint64) ([]*access.Grant, error)
	DeleteGrant(assetId, seq uint64) error

	SavePending(assetId uint64, amount *big.Int) error
	GetPendingList() (map[uint64]*big.Int, error)

	SaveState(state *access.ContractState) error
	GetState() (*access.ContractState, error)

	SaveEvent(event *access.AssetCreatedEvent) error
	GetEventList() ([]*access.AssetCreatedEvent, error)
	DeleteEvent(assetId uint64) error

	Reset() error
	Close() error
}

type AccessRecord struct {
	AssetId uint64 `json:"assetId"`
	Address string `json:"address"`
}
