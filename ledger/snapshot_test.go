package ledger

import (
	"errors"
	"math/big"
	"testing"

	"github.com/jierlich/paywall/access"
	"github.com/jierlich/paywall/database/pebbledb"
	"github.com/jierlich/paywall/settlement/mock"
)

func TestSnapshotRoundTrip(t *testing.T) {
	l, _ := newTestLedger(t, pow10(16))
	idA, _ := l.Create(big.NewInt(100), creator)
	idB, _ := l.Create(big.NewInt(0), friend)
	if err := l.GrantAccess(buyer, idA, buyer, big.NewInt(100)); err != nil {
		t.Fatalf("grant err: %v", err)
	}
	if err := l.GrantAccess(buyer, idB, friend, nil); err != nil {
		t.Fatalf("grant err: %v", err)
	}

	data, err := l.Export()
	if err != nil {
		t.Fatalf("Export err: %v", err)
	}

	// restore into an empty ledger backed by a fresh store
	db, err := pebbledb.NewDataBase(t.TempDir(), 4)
	if err != nil {
		t.Fatalf("NewDataBase err: %v", err)
	}
	defer db.Close()
	restored := NewLedger(db, mock.NewSender(), deployer, nil)
	if err := restored.Load(); err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if err := restored.Import(data); err != nil {
		t.Fatalf("Import err: %v", err)
	}

	if restored.ContractOwner() != deployer {
		t.Fatalf("owner = %s", restored.ContractOwner())
	}
	if restored.ContractFee().Cmp(pow10(16)) != 0 {
		t.Fatalf("rate = %s", restored.ContractFee())
	}
	if restored.PendingWithdrawals(idA).Cmp(big.NewInt(99)) != 0 {
		t.Fatalf("pending = %s, want 99", restored.PendingWithdrawals(idA))
	}
	if restored.ContractFeesAccrued().Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("accrued = %s, want 1", restored.ContractFeesAccrued())
	}
	granted, _ := restored.AddressHasAccess(idA, buyer)
	if !granted {
		t.Fatal("access lost in snapshot")
	}
	grants, err := restored.Grants(idA)
	if err != nil || len(grants) != 1 {
		t.Fatalf("grants = %d, %v", len(grants), err)
	}
	events, err := restored.Events()
	if err != nil || len(events) != 2 {
		t.Fatalf("events = %d, %v", len(events), err)
	}
	id, err := restored.Create(big.NewInt(5), creator)
	if err != nil {
		t.Fatalf("create after import err: %v", err)
	}
	if id != idB+1 {
		t.Fatalf("id after import = %d, want %d", id, idB+1)
	}
}

// Restoring a snapshot must also drop records written after it was taken,
// not just re-write the records it contains.
func TestRestoreDropsLaterRecords(t *testing.T) {
	l, _ := newTestLedger(t, pow10(16))
	id, _ := l.Create(big.NewInt(100), creator)
	if err := l.GrantAccess(buyer, id, buyer, big.NewInt(100)); err != nil {
		t.Fatalf("grant err: %v", err)
	}
	data, err := l.Export()
	if err != nil {
		t.Fatalf("Export err: %v", err)
	}

	laterId, _ := l.Create(big.NewInt(50), creator)
	if err := l.GrantAccess(buyer, laterId, friend, big.NewInt(50)); err != nil {
		t.Fatalf("later grant err: %v", err)
	}

	if err := l.Import(data); err != nil {
		t.Fatalf("Import err: %v", err)
	}
	if _, err := l.Asset(laterId); !errors.Is(err, access.ErrNotFound) {
		t.Fatalf("later asset after restore: err = %v, want NotFound", err)
	}
	granted, _ := l.AddressHasAccess(laterId, friend)
	if granted {
		t.Fatal("access grant for dropped asset survived restore")
	}
	if l.PendingWithdrawals(laterId).Sign() != 0 {
		t.Fatalf("pending for dropped asset = %s", l.PendingWithdrawals(laterId))
	}
	grants, _ := l.Grants(laterId)
	if len(grants) != 0 {
		t.Fatalf("grant records for dropped asset = %d", len(grants))
	}
	events, _ := l.Events()
	if len(events) != 1 {
		t.Fatalf("events after restore = %d, want 1", len(events))
	}

	// snapshot-era records are intact and the id counter is rewound
	granted, _ = l.AddressHasAccess(id, buyer)
	if !granted {
		t.Fatal("snapshot access lost on restore")
	}
	if l.PendingWithdrawals(id).Cmp(big.NewInt(99)) != 0 {
		t.Fatalf("pending after restore = %s, want 99", l.PendingWithdrawals(id))
	}
	nextId, err := l.Create(big.NewInt(1), creator)
	if err != nil {
		t.Fatalf("create after restore err: %v", err)
	}
	if nextId != laterId {
		t.Fatalf("id after restore = %d, want %d", nextId, laterId)
	}
}
