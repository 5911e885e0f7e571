package pebbledb

import (
	"fmt"
	"log"
	"math/big"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/pebble"

	"github.com/jierlich/paywall/access"
	"github.com/jierlich/paywall/database"
)

// ShardConfig 分片数量 default shard count for the access relation
var ShardConfig = 16

const stateKey = "state"

// Database wraps the pebble instances backing the ledger.
// AccessDBs: 每个分片一个pebble实例 — the (assetId, address) relation is the
// only unbounded-cardinality table, so it is sharded by xxhash.
// AssetsDB/GrantsDB/BalanceDB/EventsDB/StateDB are independent instances.
type Database struct {
	AccessDBs []*pebble.DB
	AssetsDB  *pebble.DB
	GrantsDB  *pebble.DB
	BalanceDB *pebble.DB
	EventsDB  *pebble.DB
	StateDB   *pebble.DB
}

// NewDataBase opens all instances under basePath, creating directories as
// needed.
func NewDataBase(basePath string, shardNum int) (*Database, error) {
	if shardNum <= 0 {
		shardNum = ShardConfig
	}
	dbOptions := &pebble.Options{
		Levels: []pebble.LevelOptions{
			{
				Compression: pebble.NoCompression,
			},
		},
		MemTableSize:                32 << 20,
		MemTableStopWritesThreshold: 2,
		Cache:                       pebble.NewCache(128 << 20),
		MaxOpenFiles:                64,
	}
	accessDBs := make([]*pebble.DB, shardNum)
	for i := 0; i < shardNum; i++ {
		dir := fmt.Sprintf("%s/access_%d", basePath, i)
		os.MkdirAll(dir, 0755)
		db, err := pebble.Open(fmt.Sprintf("%s/db", dir), dbOptions)
		if err != nil {
			log.Println(err)
			return nil, err
		}
		accessDBs[i] = db
	}
	idx := &Database{AccessDBs: accessDBs}
	for name, field := range map[string]**pebble.DB{
		"assets":  &idx.AssetsDB,
		"grants":  &idx.GrantsDB,
		"balance": &idx.BalanceDB,
		"events":  &idx.EventsDB,
		"state":   &idx.StateDB,
	} {
		os.MkdirAll(fmt.Sprintf("%s/%s", basePath, name), 0755)
		db, err := pebble.Open(fmt.Sprintf("%s/%s/db", basePath, name), dbOptions)
		if err != nil {
			log.Println(err)
			return nil, err
		}
		*field = db
	}
	return idx, nil
}

func (idx *Database) Close() error {
	for _, db := range idx.AccessDBs {
		db.Close()
	}
	idx.AssetsDB.Close()
	idx.GrantsDB.Close()
	idx.BalanceDB.Close()
	idx.EventsDB.Close()
	idx.StateDB.Close()
	return nil
}

func (idx *Database) SaveAsset(asset *access.Asset) error {
	content, err := sonic.Marshal(asset)
	if err != nil {
		return err
	}
	return idx.AssetsDB.Set([]byte(BuildAssetKey(asset.Id)), content, pebble.Sync)
}

func (idx *Database) GetAsset(id uint64) (*access.Asset, error) {
	val, closer, err := idx.AssetsDB.Get([]byte(BuildAssetKey(id)))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	var asset access.Asset
	if err := sonic.Unmarshal(val, &asset); err != nil {
		return nil, err
	}
	return &asset, nil
}

func (idx *Database) DeleteAsset(id uint64) error {
	return idx.AssetsDB.Delete([]byte(BuildAssetKey(id)), pebble.Sync)
}

func (idx *Database) GetAssetList() ([]*access.Asset, error) {
	it, err := idx.AssetsDB.NewIter(nil)
	if err != nil {
		return nil, err
	}
	defer it.Close()
	var list []*access.Asset
	for it.First(); it.Valid(); it.Next() {
		var asset access.Asset
		if err := sonic.Unmarshal(it.Value(), &asset); err != nil {
			continue
		}
		list = append(list, &asset)
	}
	return list, nil
}

func (idx *Database) SaveAccess(assetId uint64, address string) error {
	key := BuildAccessKey(assetId, address)
	db := idx.getShard(key)
	return db.Set([]byte(key), []byte("1"), pebble.Sync)
}

func (idx *Database) HasAccess(assetId uint64, address string) (bool, error) {
	key := BuildAccessKey(assetId, address)
	db := idx.getShard(key)
	_, closer, err := db.Get([]byte(key))
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	closer.Close()
	return true, nil
}

func (idx *Database) DeleteAccess(assetId uint64, address string) error {
	key := BuildAccessKey(assetId, address)
	return idx.getShard(key).Delete([]byte(key), pebble.Sync)
}

// GetAccessList scans every shard concurrently, one goroutine per shard.
func (idx *Database) GetAccessList() ([]*database.AccessRecord, error) {
	var wg sync.WaitGroup
	var errOnce sync.Once
	var firstErr error
	ch := make(chan []*database.AccessRecord, len(idx.AccessDBs))
	for _, db := range idx.AccessDBs {
		wg.Add(1)
		go func(db *pebble.DB) {
			defer wg.Done()
			it, err := db.NewIter(nil)
			if err != nil {
				errOnce.Do(func() { firstErr = err })
				return
			}
			defer it.Close()
			var local []*database.AccessRecord
			for it.First(); it.Valid(); it.Next() {
				rec, err := splitAccessKey(string(it.Key()))
				if err != nil {
					continue
				}
				local = append(local, rec)
			}
			ch <- local
		}(db)
	}
	wg.Wait()
	close(ch)
	var list []*database.AccessRecord
	for local := range ch {
		list = append(list, local...)
	}
	return list, firstErr
}

func (idx *Database) SaveGrant(grant *access.Grant) error {
	content, err := sonic.Marshal(grant)
	if err != nil {
		return err
	}
	return idx.GrantsDB.Set([]byte(BuildGrantKey(grant.AssetId, grant.Seq)), content, pebble.Sync)
}

func (idx *Database) DeleteGrant(assetId, seq uint64) error {
	return idx.GrantsDB.Delete([]byte(BuildGrantKey(assetId, seq)), pebble.Sync)
}

func (idx *Database) GetGrantList(assetId uint64) ([]*access.Grant, error) {
	it, err := idx.GrantsDB.NewIter(nil)
	if err != nil {
		return nil, err
	}
	defer it.Close()
	prefix := fmt.Sprintf("%020d&", assetId)
	var list []*access.Grant
	for it.First(); it.Valid(); it.Next() {
		if !strings.HasPrefix(string(it.Key()), prefix) {
			continue
		}
		var grant access.Grant
		if err := sonic.Unmarshal(it.Value(), &grant); err != nil {
			continue
		}
		list = append(list, &grant)
	}
	return list, nil
}

func (idx *Database) SavePending(assetId uint64, amount *big.Int) error {
	return idx.BalanceDB.Set([]byte(BuildAssetKey(assetId)), []byte(amount.String()), pebble.Sync)
}

func (idx *Database) GetPendingList() (map[uint64]*big.Int, error) {
	it, err := idx.BalanceDB.NewIter(nil)
	if err != nil {
		return nil, err
	}
	defer it.Close()
	result := make(map[uint64]*big.Int)
	for it.First(); it.Valid(); it.Next() {
		id, err := strconv.ParseUint(string(it.Key()), 10, 64)
		if err != nil {
			continue
		}
		amount, ok := new(big.Int).SetString(string(it.Value()), 10)
		if !ok {
			continue
		}
		result[id] = amount
	}
	return result, nil
}

func (idx *Database) SaveState(state *access.ContractState) error {
	content, err := sonic.Marshal(state)
	if err != nil {
		return err
	}
	return idx.StateDB.Set([]byte(stateKey), content, pebble.Sync)
}

func (idx *Database) GetState() (*access.ContractState, error) {
	val, closer, err := idx.StateDB.Get([]byte(stateKey))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	var state access.ContractState
	if err := sonic.Unmarshal(val, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (idx *Database) SaveEvent(event *access.AssetCreatedEvent) error {
	content, err := sonic.Marshal(event)
	if err != nil {
		return err
	}
	return idx.EventsDB.Set([]byte(BuildAssetKey(event.AssetId)), content, pebble.Sync)
}

func (idx *Database) GetEventList() ([]*access.AssetCreatedEvent, error) {
	it, err := idx.EventsDB.NewIter(nil)
	if err != nil {
		return nil, err
	}
	defer it.Close()
	var list []*access.AssetCreatedEvent
	for it.First(); it.Valid(); it.Next() {
		var event access.AssetCreatedEvent
		if err := sonic.Unmarshal(it.Value(), &event); err != nil {
			continue
		}
		list = append(list, &event)
	}
	return list, nil
}

func (idx *Database) DeleteEvent(assetId uint64) error {
	return idx.EventsDB.Delete([]byte(BuildAssetKey(assetId)), pebble.Sync)
}

// Reset empties every instance. Keys are ascii so a single range covers all.
func (idx *Database) Reset() error {
	dbs := append([]*pebble.DB{}, idx.AccessDBs...)
	dbs = append(dbs, idx.AssetsDB, idx.GrantsDB, idx.BalanceDB, idx.EventsDB, idx.StateDB)
	for _, db := range dbs {
		if err := db.DeleteRange([]byte{0x00}, []byte{0xff}, pebble.Sync); err != nil {
			return err
		}
	}
	return nil
}

// 统一主键生成函数，保证写入和查询一致
func BuildAssetKey(id uint64) string {
	return fmt.Sprintf("%020d", id)
}

func BuildGrantKey(assetId, seq uint64) string {
	return fmt.Sprintf("%020d&%020d", assetId, seq)
}

func BuildAccessKey(assetId uint64, address string) string {
	return fmt.Sprintf("%020d&%s", assetId, address)
}

func splitAccessKey(key string) (*database.AccessRecord, error) {
	arr := strings.SplitN(key, "&", 2)
	if len(arr) != 2 {
		return nil, fmt.Errorf("bad access key %s", key)
	}
	id, err := strconv.ParseUint(arr[0], 10, 64)
	if err != nil {
		return nil, err
	}
	return &database.AccessRecord{AssetId: id, Address: arr[1]}, nil
}

// getShard 使用 xxhash 分片，保证分布均匀
func (idx *Database) getShard(key string) *pebble.DB {
	h := xxhash.Sum64String(key)
	return idx.AccessDBs[h%uint64(len(idx.AccessDBs))]
}
