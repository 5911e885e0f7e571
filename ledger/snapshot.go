package ledger

import (
	"math/big"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/zstd"

	"github.com/jierlich/paywall/access"
	"github.com/jierlich/paywall/database"
)

// Snapshot is the full ledger state as one exportable unit: registry,
// balances, access relation, grant history and the event log.
type Snapshot struct {
	State   *access.ContractState       `json:"state"`
	Assets  []*access.Asset             `json:"assets"`
	Pending []*PendingEntry             `json:"pending"`
	Access  []*database.AccessRecord    `json:"access"`
	Grants  []*access.Grant             `json:"grants"`
	Events  []*access.AssetCreatedEvent `json:"events"`
}

type PendingEntry struct {
	AssetId uint64   `json:"assetId"`
	Amount  *big.Int `json:"amount"`
}

// Export serializes the whole ledger and compresses it with Zstandard.
func (l *Ledger) Export() ([]byte, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	snap := &Snapshot{State: l.state()}
	for _, asset := range l.assets {
		copied := *asset
		copied.FeeAmount = new(big.Int).Set(asset.FeeAmount)
		snap.Assets = append(snap.Assets, &copied)
	}
	for id, amount := range l.pending {
		snap.Pending = append(snap.Pending, &PendingEntry{AssetId: id, Amount: new(big.Int).Set(amount)})
	}
	accessList, err := l.db.GetAccessList()
	if err != nil {
		return nil, err
	}
	snap.Access = accessList
	for _, asset := range l.assets {
		grants, err := l.db.GetGrantList(asset.Id)
		if err != nil {
			return nil, err
		}
		snap.Grants = append(snap.Grants, grants...)
	}
	events, err := l.db.GetEventList()
	if err != nil {
		return nil, err
	}
	snap.Events = events

	serialized, err := sonic.Marshal(snap)
	if err != nil {
		return nil, err
	}
	encoder, _ := zstd.NewWriter(nil)
	compressed := encoder.EncodeAll(serialized, make([]byte, 0, len(serialized)))
	encoder.Close()
	return compressed, nil
}

// Import replaces the ledger's state with the snapshot. The store is emptied
// first so records written after the snapshot was taken do not survive the
// restore, then every snapshot record is written back and the in-memory maps
// rebuilt.
func (l *Ledger) Import(data []byte) error {
	decoder, _ := zstd.NewReader(nil)
	serialized, err := decoder.DecodeAll(data, nil)
	decoder.Close()
	if err != nil {
		return err
	}
	var snap Snapshot
	if err := sonic.Unmarshal(serialized, &snap); err != nil {
		return err
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()
	if err := l.db.Reset(); err != nil {
		return err
	}
	for _, asset := range snap.Assets {
		if err := l.db.SaveAsset(asset); err != nil {
			return err
		}
	}
	for _, entry := range snap.Pending {
		if err := l.db.SavePending(entry.AssetId, entry.Amount); err != nil {
			return err
		}
	}
	for _, rec := range snap.Access {
		if err := l.db.SaveAccess(rec.AssetId, rec.Address); err != nil {
			return err
		}
	}
	for _, grant := range snap.Grants {
		if err := l.db.SaveGrant(grant); err != nil {
			return err
		}
	}
	for _, event := range snap.Events {
		if err := l.db.SaveEvent(event); err != nil {
			return err
		}
	}
	if err := l.db.SaveState(snap.State); err != nil {
		return err
	}

	l.contractOwner = snap.State.ContractOwner
	l.contractFee = new(big.Int).Set(snap.State.ContractFee)
	l.nextAssetId = snap.State.NextAssetId
	l.grantCount = snap.State.GrantCount
	l.feesAccrued = new(big.Int).Set(snap.State.ContractFeesAccrued)
	l.assets = make(map[uint64]*access.Asset)
	for _, asset := range snap.Assets {
		l.assets[asset.Id] = asset
	}
	l.pending = make(map[uint64]*big.Int)
	for _, entry := range snap.Pending {
		if entry.Amount.Sign() > 0 {
			l.pending[entry.AssetId] = entry.Amount
		}
	}
	return nil
}

// SaveSnapshotFile writes a compressed snapshot under dir.
func (l *Ledger) SaveSnapshotFile(dir, name string) error {
	data, err := l.Export()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name), data, 0644)
}

func (l *Ledger) LoadSnapshotFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return l.Import(data)
}
