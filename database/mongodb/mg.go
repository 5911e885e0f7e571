package mongodb

import (
	"context"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/jierlich/paywall/common"
)

const (
	AssetsCollection   string = "assets"
	AccessCollection   string = "accessgrants"
	GrantsCollection   string = "grants"
	BalancesCollection string = "balances"
	EventsCollection   string = "events"
	StateCollection    string = "state"
)

var (
	mongoClient *mongo.Database
	Client      *mongo.Database
)

type Mongodb struct{}

func (mg *Mongodb) InitDatabase() {
	connectMongoDb()
}

func connectMongoDb() {
	mg := common.Config.MongoDb
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(mg.TimeOut))
	defer cancel()
	o := options.Client().ApplyURI(mg.MongoURI)
	o.SetMaxPoolSize(uint64(mg.PoolSize))
	client, err := mongo.Connect(ctx, o)
	if err != nil {
		log.Panic("ConnectToDB", err)
		return
	}
	if err = client.Ping(context.Background(), readpref.Primary()); err != nil {
		log.Panic("ConnectToDB", err)
		return
	}
	mongoClient = client.Database(mg.DbName)
	Client = mongoClient

	createIndexIfNotExists(mongoClient, AssetsCollection, "id_1", bson.D{{Key: "id", Value: 1}}, true)
	createIndexIfNotExists(mongoClient, AccessCollection, "assetid_address_1", bson.D{{Key: "assetid", Value: 1}, {Key: "address", Value: 1}}, true)
	createIndexIfNotExists(mongoClient, GrantsCollection, "seq_1", bson.D{{Key: "seq", Value: 1}}, true)
	createIndexIfNotExists(mongoClient, GrantsCollection, "assetid_1", bson.D{{Key: "assetid", Value: 1}}, false)
	createIndexIfNotExists(mongoClient, GrantsCollection, "grantee_1", bson.D{{Key: "grantee", Value: 1}}, false)
	createIndexIfNotExists(mongoClient, BalancesCollection, "assetid_1", bson.D{{Key: "assetid", Value: 1}}, true)
	createIndexIfNotExists(mongoClient, EventsCollection, "assetid_1", bson.D{{Key: "assetid", Value: 1}}, true)
}

func createIndexIfNotExists(mongoClient *mongo.Database, collectionName, indexName string, keys bson.D, unique bool) error {
	exists, err := checkIndexExists(mongoClient, collectionName, indexName)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	collection := mongoClient.Collection(collectionName)
	indexModel := mongo.IndexModel{
		Keys:    keys,
		Options: options.Index().SetName(indexName).SetUnique(unique),
	}
	_, err = collection.Indexes().CreateOne(context.Background(), indexModel)
	return err
}

func checkIndexExists(mongoClient *mongo.Database, collectionName, indexName string) (bool, error) {
	collection := mongoClient.Collection(collectionName)
	indexView := collection.Indexes()
	cursor, err := indexView.List(context.Background())
	if err != nil {
		return false, err
	}
	defer cursor.Close(context.Background())
	for cursor.Next(context.Background()) {
		var indexKey bson.M
		if err := cursor.Decode(&indexKey); err != nil {
			return false, err
		}
		if indexKey["name"] == indexName {
			return true, nil
		}
	}
	return false, nil
}
