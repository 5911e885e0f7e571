package mongodb

import (
	"errors"
	"math/big"

	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/jierlich/paywall/access"
	"github.com/jierlich/paywall/database"
)

// Amounts are persisted as decimal strings so that uint256-scale values
// survive the round trip without a custom bson codec.
type assetRecord struct {
	Id        uint64 `bson:"id"`
	Owner     string `bson:"owner"`
	FeeAmount string `bson:"feeamount"`
}

type accessRecord struct {
	AssetId uint64 `bson:"assetid"`
	Address string `bson:"address"`
}

type grantRecord struct {
	Seq           uint64 `bson:"seq"`
	AssetId       uint64 `bson:"assetid"`
	Grantee       string `bson:"grantee"`
	Payer         string `bson:"payer"`
	Amount        string `bson:"amount"`
	OwnerShare    string `bson:"ownershare"`
	ContractShare string `bson:"contractshare"`
	Timestamp     int64  `bson:"timestamp"`
}

type balanceRecord struct {
	AssetId uint64 `bson:"assetid"`
	Amount  string `bson:"amount"`
}

type eventRecord struct {
	AssetId   uint64 `bson:"assetid"`
	Owner     string `bson:"owner"`
	Timestamp int64  `bson:"timestamp"`
}

type stateRecord struct {
	Key                 string `bson:"key"`
	ContractOwner       string `bson:"contractowner"`
	ContractFee         string `bson:"contractfee"`
	NextAssetId         uint64 `bson:"nextassetid"`
	GrantCount          uint64 `bson:"grantcount"`
	ContractFeesAccrued string `bson:"contractfeesaccrued"`
}

func parseAmount(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, errors.New("bad amount value: " + s)
	}
	return v, nil
}

func (mg *Mongodb) SaveAsset(asset *access.Asset) (err error) {
	rec := assetRecord{Id: asset.Id, Owner: asset.Owner, FeeAmount: asset.FeeAmount.String()}
	filter := bson.D{{Key: "id", Value: asset.Id}}
	update := bson.D{{Key: "$set", Value: rec}}
	opt := options.Update().SetUpsert(true)
	_, err = mongoClient.Collection(AssetsCollection).UpdateOne(context.TODO(), filter, update, opt)
	return
}

func (mg *Mongodb) GetAsset(id uint64) (*access.Asset, error) {
	var rec assetRecord
	filter := bson.D{{Key: "id", Value: id}}
	err := mongoClient.Collection(AssetsCollection).FindOne(context.TODO(), filter).Decode(&rec)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	fee, err := parseAmount(rec.FeeAmount)
	if err != nil {
		return nil, err
	}
	return &access.Asset{Id: rec.Id, Owner: rec.Owner, FeeAmount: fee}, nil
}

func (mg *Mongodb) DeleteAsset(id uint64) (err error) {
	filter := bson.D{{Key: "id", Value: id}}
	_, err = mongoClient.Collection(AssetsCollection).DeleteOne(context.TODO(), filter)
	return
}

func (mg *Mongodb) GetAssetList() (list []*access.Asset, err error) {
	findOp := options.Find().SetSort(bson.D{{Key: "id", Value: 1}})
	cursor, err := mongoClient.Collection(AssetsCollection).Find(context.TODO(), bson.D{}, findOp)
	if err != nil {
		return
	}
	var recs []*assetRecord
	if err = cursor.All(context.TODO(), &recs); err != nil {
		return
	}
	for _, rec := range recs {
		fee, ferr := parseAmount(rec.FeeAmount)
		if ferr != nil {
			err = ferr
			return
		}
		list = append(list, &access.Asset{Id: rec.Id, Owner: rec.Owner, FeeAmount: fee})
	}
	return
}

func (mg *Mongodb) SaveAccess(assetId uint64, address string) (err error) {
	rec := accessRecord{AssetId: assetId, Address: address}
	filter := bson.D{{Key: "assetid", Value: assetId}, {Key: "address", Value: address}}
	update := bson.D{{Key: "$set", Value: rec}}
	opt := options.Update().SetUpsert(true)
	_, err = mongoClient.Collection(AccessCollection).UpdateOne(context.TODO(), filter, update, opt)
	return
}

func (mg *Mongodb) HasAccess(assetId uint64, address string) (bool, error) {
	filter := bson.D{{Key: "assetid", Value: assetId}, {Key: "address", Value: address}}
	err := mongoClient.Collection(AccessCollection).FindOne(context.TODO(), filter).Err()
	if err == mongo.ErrNoDocuments {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (mg *Mongodb) DeleteAccess(assetId uint64, address string) (err error) {
	filter := bson.D{{Key: "assetid", Value: assetId}, {Key: "address", Value: address}}
	_, err = mongoClient.Collection(AccessCollection).DeleteOne(context.TODO(), filter)
	return
}

func (mg *Mongodb) GetAccessList() (list []*database.AccessRecord, err error) {
	cursor, err := mongoClient.Collection(AccessCollection).Find(context.TODO(), bson.D{})
	if err != nil {
		return
	}
	var recs []*accessRecord
	if err = cursor.All(context.TODO(), &recs); err != nil {
		return
	}
	for _, rec := range recs {
		list = append(list, &database.AccessRecord{AssetId: rec.AssetId, Address: rec.Address})
	}
	return
}

// SaveGrant upserts on seq so snapshot restore can re-save grants the
// collection already holds.
func (mg *Mongodb) SaveGrant(grant *access.Grant) (err error) {
	rec := grantRecord{
		Seq:           grant.Seq,
		AssetId:       grant.AssetId,
		Grantee:       grant.Grantee,
		Payer:         grant.Payer,
		Amount:        grant.Amount.String(),
		OwnerShare:    grant.OwnerShare.String(),
		ContractShare: grant.ContractShare.String(),
		Timestamp:     grant.Timestamp,
	}
	filter := bson.D{{Key: "seq", Value: grant.Seq}}
	update := bson.D{{Key: "$set", Value: rec}}
	opt := options.Update().SetUpsert(true)
	_, err = mongoClient.Collection(GrantsCollection).UpdateOne(context.TODO(), filter, update, opt)
	return
}

func (mg *Mongodb) DeleteGrant(assetId, seq uint64) (err error) {
	filter := bson.D{{Key: "seq", Value: seq}}
	_, err = mongoClient.Collection(GrantsCollection).DeleteOne(context.TODO(), filter)
	return
}

func (mg *Mongodb) GetGrantList(assetId uint64) (list []*access.Grant, err error) {
	filter := bson.D{{Key: "assetid", Value: assetId}}
	findOp := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}})
	cursor, err := mongoClient.Collection(GrantsCollection).Find(context.TODO(), filter, findOp)
	if err != nil {
		return
	}
	var recs []*grantRecord
	if err = cursor.All(context.TODO(), &recs); err != nil {
		return
	}
	for _, rec := range recs {
		grant, gerr := recordToGrant(rec)
		if gerr != nil {
			err = gerr
			return
		}
		list = append(list, grant)
	}
	return
}

func recordToGrant(rec *grantRecord) (*access.Grant, error) {
	amount, err := parseAmount(rec.Amount)
	if err != nil {
		return nil, err
	}
	ownerShare, err := parseAmount(rec.OwnerShare)
	if err != nil {
		return nil, err
	}
	contractShare, err := parseAmount(rec.ContractShare)
	if err != nil {
		return nil, err
	}
	return &access.Grant{
		Seq:           rec.Seq,
		AssetId:       rec.AssetId,
		Grantee:       rec.Grantee,
		Payer:         rec.Payer,
		Amount:        amount,
		OwnerShare:    ownerShare,
		ContractShare: contractShare,
		Timestamp:     rec.Timestamp,
	}, nil
}

func (mg *Mongodb) SavePending(assetId uint64, amount *big.Int) (err error) {
	rec := balanceRecord{AssetId: assetId, Amount: amount.String()}
	filter := bson.D{{Key: "assetid", Value: assetId}}
	update := bson.D{{Key: "$set", Value: rec}}
	opt := options.Update().SetUpsert(true)
	_, err = mongoClient.Collection(BalancesCollection).UpdateOne(context.TODO(), filter, update, opt)
	return
}

func (mg *Mongodb) GetPendingList() (map[uint64]*big.Int, error) {
	cursor, err := mongoClient.Collection(BalancesCollection).Find(context.TODO(), bson.D{})
	if err != nil {
		return nil, err
	}
	var recs []*balanceRecord
	if err = cursor.All(context.TODO(), &recs); err != nil {
		return nil, err
	}
	result := make(map[uint64]*big.Int)
	for _, rec := range recs {
		amount, aerr := parseAmount(rec.Amount)
		if aerr != nil {
			return nil, aerr
		}
		result[rec.AssetId] = amount
	}
	return result, nil
}

func (mg *Mongodb) SaveState(state *access.ContractState) (err error) {
	rec := stateRecord{
		Key:                 "state",
		ContractOwner:       state.ContractOwner,
		ContractFee:         state.ContractFee.String(),
		NextAssetId:         state.NextAssetId,
		GrantCount:          state.GrantCount,
		ContractFeesAccrued: state.ContractFeesAccrued.String(),
	}
	filter := bson.D{{Key: "key", Value: "state"}}
	update := bson.D{{Key: "$set", Value: rec}}
	opt := options.Update().SetUpsert(true)
	_, err = mongoClient.Collection(StateCollection).UpdateOne(context.TODO(), filter, update, opt)
	return
}

func (mg *Mongodb) GetState() (*access.ContractState, error) {
	var rec stateRecord
	filter := bson.D{{Key: "key", Value: "state"}}
	err := mongoClient.Collection(StateCollection).FindOne(context.TODO(), filter).Decode(&rec)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	fee, err := parseAmount(rec.ContractFee)
	if err != nil {
		return nil, err
	}
	accrued, err := parseAmount(rec.ContractFeesAccrued)
	if err != nil {
		return nil, err
	}
	return &access.ContractState{
		ContractOwner:       rec.ContractOwner,
		ContractFee:         fee,
		NextAssetId:         rec.NextAssetId,
		GrantCount:          rec.GrantCount,
		ContractFeesAccrued: accrued,
	}, nil
}

func (mg *Mongodb) SaveEvent(event *access.AssetCreatedEvent) (err error) {
	rec := eventRecord{AssetId: event.AssetId, Owner: event.Owner, Timestamp: event.Timestamp}
	filter := bson.D{{Key: "assetid", Value: event.AssetId}}
	update := bson.D{{Key: "$set", Value: rec}}
	opt := options.Update().SetUpsert(true)
	_, err = mongoClient.Collection(EventsCollection).UpdateOne(context.TODO(), filter, update, opt)
	return
}

func (mg *Mongodb) GetEventList() (list []*access.AssetCreatedEvent, err error) {
	findOp := options.Find().SetSort(bson.D{{Key: "assetid", Value: 1}})
	cursor, err := mongoClient.Collection(EventsCollection).Find(context.TODO(), bson.D{}, findOp)
	if err != nil {
		return
	}
	var recs []*eventRecord
	if err = cursor.All(context.TODO(), &recs); err != nil {
		return
	}
	for _, rec := range recs {
		list = append(list, &access.AssetCreatedEvent{AssetId: rec.AssetId, Owner: rec.Owner, Timestamp: rec.Timestamp})
	}
	return
}

func (mg *Mongodb) DeleteEvent(assetId uint64) (err error) {
	filter := bson.D{{Key: "assetid", Value: assetId}}
	_, err = mongoClient.Collection(EventsCollection).DeleteOne(context.TODO(), filter)
	return
}

func (mg *Mongodb) Reset() (err error) {
	collections := []string{
		AssetsCollection, AccessCollection, GrantsCollection,
		BalancesCollection, EventsCollection, StateCollection,
	}
	for _, name := range collections {
		if _, err = mongoClient.Collection(name).DeleteMany(context.TODO(), bson.D{}); err != nil {
			return
		}
	}
	return
}

func (mg *Mongodb) Close() error {
	return nil
}
