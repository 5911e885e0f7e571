package main

import (
	"fmt"
	"log"

	"github.com/jierlich/paywall/access"
	"github.com/jierlich/paywall/api"
	"github.com/jierlich/paywall/common"
	"github.com/jierlich/paywall/database"
	"github.com/jierlich/paywall/database/mongodb"
	"github.com/jierlich/paywall/database/pebbledb"
	"github.com/jierlich/paywall/ledger"
	"github.com/jierlich/paywall/settlement"
)

func main() {
	banner := `
    ____  ___   _  ___      _____    __    __
   / __ \/   | | |/ / |    / /   |  / /   / /
  / /_/ / /| | |   /| |   / / /| | / /   / /
 / ____/ ___ |/   | | |  / / ___ |/ /___/ /___
/_/   /_/  |_/_/|_| |_|/_/_/  |_/_____/_____/
 `
	fmt.Println(banner)
	common.InitConfig("./config.toml")

	var db database.Db
	switch common.Db {
	case "mongo":
		mg := &mongodb.Mongodb{}
		mg.InitDatabase()
		db = mg
	default:
		pb, err := pebbledb.NewDataBase(common.Config.Pebble.Dir, common.Config.Pebble.Num)
		if err != nil {
			log.Fatalf("open pebble database: %v", err)
		}
		db = pb
	}

	rate, err := access.ParseRate(common.Config.Ledger.ContractFee)
	if err != nil {
		log.Fatalf("contractFee config: %v", err)
	}
	engine := ledger.NewLedger(db, settlement.NewLogSender(), common.Config.Ledger.ContractOwner, rate)
	if err := engine.Load(); err != nil {
		log.Fatalf("load ledger: %v", err)
	}
	if common.Restore != "" {
		if err := engine.LoadSnapshotFile(common.Restore); err != nil {
			log.Fatalf("restore snapshot %s: %v", common.Restore, err)
		}
		log.Println("restored snapshot:", common.Restore)
	}
	log.Printf("Paywall,db=%s,owner=%s,rate=%s,config=%s", common.Db, engine.ContractOwner(), engine.ContractFee(), common.ConfigFile)
	if common.Server == "1" {
		api.Start(engine)
	}
}
