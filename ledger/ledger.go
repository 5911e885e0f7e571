package ledger

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/jierlich/paywall/access"
	"github.com/jierlich/paywall/database"
	"github.com/jierlich/paywall/settlement"
)

var validator = Validator{}

// Ledger is the access ledger engine. All maps are guarded by mutex and the
// whole of every operation runs inside it, so callers observe each operation
// as one atomic state transition. The Db adapter is a write-through copy of
// this state and is replayed by Load on startup.
type Ledger struct {
	mutex  sync.Mutex
	db     database.Db
	sender settlement.Sender

	contractOwner string
	contractFee   *big.Int
	nextAssetId   uint64
	grantCount    uint64
	assets        map[uint64]*access.Asset
	pending       map[uint64]*big.Int
	feesAccrued   *big.Int
}

// NewLedger builds an empty ledger. contractOwner is the deploying identity;
// contractFee is the initial WAD-scaled platform rate (nil means zero).
func NewLedger(db database.Db, sender settlement.Sender, contractOwner string, contractFee *big.Int) *Ledger {
	if contractFee == nil {
		contractFee = new(big.Int)
	}
	return &Ledger{
		db:            db,
		sender:        sender,
		contractOwner: contractOwner,
		contractFee:   new(big.Int).Set(contractFee),
		nextAssetId:   1,
		assets:        make(map[uint64]*access.Asset),
		pending:       make(map[uint64]*big.Int),
		feesAccrued:   new(big.Int),
	}
}

// Load rebuilds the in-memory state from the store. Persisted contract state
// wins over the constructor arguments, so a restart keeps the owner and rate
// that were live before shutdown.
func (l *Ledger) Load() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	state, err := l.db.GetState()
	if err != nil {
		return err
	}
	if state == nil {
		if err := l.db.SaveState(l.state()); err != nil {
			return err
		}
	} else {
		l.contractOwner = state.ContractOwner
		l.contractFee = new(big.Int).Set(state.ContractFee)
		l.nextAssetId = state.NextAssetId
		l.grantCount = state.GrantCount
		l.feesAccrued = new(big.Int).Set(state.ContractFeesAccrued)
	}
	assets, err := l.db.GetAssetList()
	if err != nil {
		return err
	}
	if len(assets) > 0 {
		bar := progressbar.Default(int64(len(assets)), "load assets")
		for _, asset := range assets {
			l.assets[asset.Id] = asset
			bar.Add(1)
		}
	}
	pending, err := l.db.GetPendingList()
	if err != nil {
		return err
	}
	for id, amount := range pending {
		if amount.Sign() > 0 {
			l.pending[id] = amount
		}
	}
	return nil
}

func (l *Ledger) state() *access.ContractState {
	return &access.ContractState{
		ContractOwner:       l.contractOwner,
		ContractFee:         new(big.Int).Set(l.contractFee),
		NextAssetId:         l.nextAssetId,
		GrantCount:          l.grantCount,
		ContractFeesAccrued: new(big.Int).Set(l.feesAccrued),
	}
}

// Create registers a new asset and returns its id. Any caller may register
// an asset for any owner; ids are dense and monotonic from 1.
func (l *Ledger) Create(feeAmount *big.Int, owner string) (uint64, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if feeAmount == nil {
		feeAmount = new(big.Int)
	}
	if err := validator.Fee(feeAmount); err != nil {
		return 0, err
	}
	id := l.nextAssetId
	asset := &access.Asset{Id: id, Owner: owner, FeeAmount: new(big.Int).Set(feeAmount)}
	event := &access.AssetCreatedEvent{AssetId: id, Owner: owner, Timestamp: time.Now().Unix()}
	if err := l.db.SaveAsset(asset); err != nil {
		return 0, err
	}
	if err := l.db.SaveEvent(event); err != nil {
		if derr := l.db.DeleteAsset(id); derr != nil {
			log.Printf("create rollback,asset=%d,err=%v", id, derr)
		}
		return 0, err
	}
	l.nextAssetId++
	if err := l.db.SaveState(l.state()); err != nil {
		l.nextAssetId--
		if derr := l.db.DeleteEvent(id); derr != nil {
			log.Printf("create rollback,event=%d,err=%v", id, derr)
		}
		if derr := l.db.DeleteAsset(id); derr != nil {
			log.Printf("create rollback,asset=%d,err=%v", id, derr)
		}
		return 0, err
	}
	l.assets[id] = asset
	return id, nil
}

// GrantAccess marks grantee as having access to the asset, charging payer
// exactly the asset's current fee. The payment splits between the asset
// owner's pending balance and the platform balance. Payer and grantee may
// differ; re-granting an existing pair charges again.
func (l *Ledger) GrantAccess(payer string, assetId uint64, grantee string, payment *big.Int) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	asset := l.assets[assetId]
	if err := validator.Asset(asset); err != nil {
		return err
	}
	if err := validator.Payment(asset, payment); err != nil {
		return err
	}
	ownerShare := new(big.Int)
	contractShare := new(big.Int)
	if asset.FeeAmount.Sign() > 0 {
		var err error
		ownerShare, contractShare, err = access.SplitFee(asset.FeeAmount, l.contractFee)
		if err != nil {
			return err
		}
	}
	grant := &access.Grant{
		Seq:           l.grantCount + 1,
		AssetId:       assetId,
		Grantee:       grantee,
		Payer:         payer,
		Amount:        new(big.Int).Set(asset.FeeAmount),
		OwnerShare:    ownerShare,
		ContractShare: contractShare,
		Timestamp:     time.Now().Unix(),
	}
	newPending := new(big.Int).Add(l.pendingOf(assetId), ownerShare)
	newAccrued := new(big.Int).Add(l.feesAccrued, contractShare)
	// re-grants must not lose existing access when a later write fails
	hadAccess, err := l.db.HasAccess(assetId, grantee)
	if err != nil {
		return err
	}
	undoAccess := func() {
		if hadAccess {
			return
		}
		if derr := l.db.DeleteAccess(assetId, grantee); derr != nil {
			log.Printf("grant rollback,access=%d:%s,err=%v", assetId, grantee, derr)
		}
	}
	undoGrant := func() {
		if derr := l.db.DeleteGrant(assetId, grant.Seq); derr != nil {
			log.Printf("grant rollback,grant=%d:%d,err=%v", assetId, grant.Seq, derr)
		}
	}
	if err := l.db.SaveAccess(assetId, grantee); err != nil {
		return err
	}
	if err := l.db.SaveGrant(grant); err != nil {
		undoAccess()
		return err
	}
	if asset.FeeAmount.Sign() > 0 {
		if err := l.db.SavePending(assetId, newPending); err != nil {
			undoGrant()
			undoAccess()
			return err
		}
	}
	l.grantCount++
	l.feesAccrued = newAccrued
	if err := l.db.SaveState(l.state()); err != nil {
		l.grantCount--
		l.feesAccrued.Sub(l.feesAccrued, contractShare)
		if asset.FeeAmount.Sign() > 0 {
			if derr := l.db.SavePending(assetId, l.pendingOf(assetId)); derr != nil {
				log.Printf("grant rollback,pending=%d,err=%v", assetId, derr)
			}
		}
		undoGrant()
		undoAccess()
		return err
	}
	if newPending.Sign() > 0 {
		l.pending[assetId] = newPending
	}
	return nil
}

// Withdraw pays out the asset's pending balance to its current owner. The
// balance is zeroed before the transfer starts and restored if the transfer
// fails, so a reentrant call during the payout sees a zero balance.
func (l *Ledger) Withdraw(ctx context.Context, caller string, assetId uint64) (*big.Int, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	asset := l.assets[assetId]
	if err := validator.AssetOwner(asset, caller); err != nil {
		return nil, err
	}
	amount := l.pendingOf(assetId)
	if amount.Sign() == 0 {
		return nil, access.ErrNoAssetFunds
	}
	delete(l.pending, assetId)
	if err := l.db.SavePending(assetId, new(big.Int)); err != nil {
		l.pending[assetId] = amount
		return nil, err
	}
	if err := l.sender.Send(ctx, caller, amount); err != nil {
		l.pending[assetId] = amount
		if derr := l.db.SavePending(assetId, amount); derr != nil {
			log.Printf("withdraw rollback,pending=%d,err=%v", assetId, derr)
		}
		return nil, fmt.Errorf("withdraw transfer failed: %w", err)
	}
	return amount, nil
}

// ContractWithdraw pays out the platform balance to the contract owner,
// with the same zero-before-transfer discipline as Withdraw.
func (l *Ledger) ContractWithdraw(ctx context.Context, caller string) (*big.Int, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if err := validator.ContractOwnerWithdraw(l.contractOwner, caller); err != nil {
		return nil, err
	}
	if l.feesAccrued.Sign() == 0 {
		return nil, access.ErrNoContractFunds
	}
	amount := l.feesAccrued
	l.feesAccrued = new(big.Int)
	if err := l.db.SaveState(l.state()); err != nil {
		l.feesAccrued = amount
		return nil, err
	}
	if err := l.sender.Send(ctx, caller, amount); err != nil {
		l.feesAccrued = amount
		if derr := l.db.SaveState(l.state()); derr != nil {
			log.Printf("contract withdraw rollback,err=%v", derr)
		}
		return nil, fmt.Errorf("contract withdraw transfer failed: %w", err)
	}
	return amount, nil
}

// ChangeAssetOwner hands the asset, and the right to its pending balance,
// to newOwner.
func (l *Ledger) ChangeAssetOwner(caller string, assetId uint64, newOwner string) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	asset := l.assets[assetId]
	if err := validator.AssetOwner(asset, caller); err != nil {
		return err
	}
	updated := *asset
	updated.Owner = newOwner
	if err := l.db.SaveAsset(&updated); err != nil {
		return err
	}
	l.assets[assetId] = &updated
	return nil
}

// ChangeAssetFee sets the price of future grants; grants already paid keep
// their recorded split.
func (l *Ledger) ChangeAssetFee(caller string, assetId uint64, newFee *big.Int) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	asset := l.assets[assetId]
	if err := validator.AssetOwner(asset, caller); err != nil {
		return err
	}
	if newFee == nil {
		newFee = new(big.Int)
	}
	if err := validator.Fee(newFee); err != nil {
		return err
	}
	updated := *asset
	updated.FeeAmount = new(big.Int).Set(newFee)
	if err := l.db.SaveAsset(&updated); err != nil {
		return err
	}
	l.assets[assetId] = &updated
	return nil
}

// ChangeContractFee sets the WAD-scaled platform rate for all future grants.
// The rate is not bounds-checked here; a rate above WAD makes the next
// non-zero-fee grant fail.
func (l *Ledger) ChangeContractFee(caller string, newRate *big.Int) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if err := validator.ContractOwner(l.contractOwner, caller); err != nil {
		return err
	}
	if newRate == nil {
		newRate = new(big.Int)
	}
	old := l.contractFee
	l.contractFee = new(big.Int).Set(newRate)
	if err := l.db.SaveState(l.state()); err != nil {
		l.contractFee = old
		return err
	}
	return nil
}

// TransferOwnership moves contract admin rights to newOwner.
func (l *Ledger) TransferOwnership(caller string, newOwner string) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if err := validator.ContractOwner(l.contractOwner, caller); err != nil {
		return err
	}
	old := l.contractOwner
	l.contractOwner = newOwner
	if err := l.db.SaveState(l.state()); err != nil {
		l.contractOwner = old
		return err
	}
	return nil
}

func (l *Ledger) Asset(assetId uint64) (*access.Asset, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	asset := l.assets[assetId]
	if err := validator.Asset(asset); err != nil {
		return nil, err
	}
	copied := *asset
	copied.FeeAmount = new(big.Int).Set(asset.FeeAmount)
	return &copied, nil
}

func (l *Ledger) FeeAmount(assetId uint64) (*big.Int, error) {
	asset, err := l.Asset(assetId)
	if err != nil {
		return nil, err
	}
	return asset.FeeAmount, nil
}

// AddressHasAccess reports the recorded access state, defaulting to false
// for any address never granted.
func (l *Ledger) AddressHasAccess(assetId uint64, address string) (bool, error) {
	return l.db.HasAccess(assetId, address)
}

func (l *Ledger) PendingWithdrawals(assetId uint64) *big.Int {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return new(big.Int).Set(l.pendingOf(assetId))
}

func (l *Ledger) ContractFeesAccrued() *big.Int {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return new(big.Int).Set(l.feesAccrued)
}

func (l *Ledger) ContractFee() *big.Int {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return new(big.Int).Set(l.contractFee)
}

func (l *Ledger) ContractOwner() string {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.contractOwner
}

func (l *Ledger) Events() ([]*access.AssetCreatedEvent, error) {
	return l.db.GetEventList()
}

func (l *Ledger) Grants(assetId uint64) ([]*access.Grant, error) {
	return l.db.GetGrantList(assetId)
}

// pendingOf must be called with the mutex held.
func (l *Ledger) pendingOf(assetId uint64) *big.Int {
	if amount, ok := l.pending[assetId]; ok {
		return amount
	}
	return new(big.Int)
}
