package common

import (
	"flag"
	"fmt"
	"os"
	"sync"

	"github.com/BurntSushi/toml"
)

var (
	Config      *AllConfig
	configMutex sync.Mutex
	Db          string
	Server      string
	Restore     string
	ConfigFile  string
)

type AllConfig struct {
	AdminToken string `toml:"adminToken"`
	Ledger     ledgerConfig
	MongoDb    mongoConfig
	Pebble     pebbleConfig
	Web        webConfig
}

type ledgerConfig struct {
	ContractOwner string `toml:"contractOwner"`
	ContractFee   string `toml:"contractFee"` //decimal fraction, "0.01" = 1%
	SnapshotDir   string `toml:"snapshotDir"`
}

type mongoConfig struct {
	MongoURI string `toml:"mongoURI"`
	PoolSize int64  `toml:"poolSize"`
	TimeOut  int64  `toml:"timeOut"`
	DbName   string `toml:"dbName"`
}

type webConfig struct {
	Port    string `toml:"port"`
	PemFile string `toml:"pemFile"`
	KeyFile string `toml:"keyFile"`
	Host    string `toml:"host"`
}

type pebbleConfig struct {
	Dir string `toml:"dir"`
	Num int    `toml:"num"`
}

func InitConfig(filePath string) {
	configMutex.Lock()
	defer configMutex.Unlock()
	flagConfig, configFile := GetFlagConfig()
	if configFile != "" {
		filePath = configFile
	}
	ConfigFile = filePath
	if _, err := toml.DecodeFile(filePath, &Config); err != nil {
		panic(err)
	}

	for k, v := range flagConfig {
		if *v == "" {
			continue
		}
		switch k {
		case "server_port":
			Config.Web.Port = *v
		case "https_pem_file":
			Config.Web.PemFile = *v
		case "https_key_file":
			Config.Web.KeyFile = *v
		case "domain_name":
			Config.Web.Host = *v
		case "mongo_uri":
			Config.MongoDb.MongoURI = *v
		case "mongo_db_name":
			Config.MongoDb.DbName = *v
		case "pebble_dir":
			Config.Pebble.Dir = *v
		case "contract_owner":
			Config.Ledger.ContractOwner = *v
		case "contract_fee":
			Config.Ledger.ContractFee = *v
		}
	}
	if Config.Ledger.ContractFee == "" {
		Config.Ledger.ContractFee = "0"
	}
}

func GetFlagConfig() (flagConfig map[string]*string, configFile string) {
	db := flag.String("database", "pebble", "Which database to use")
	server := flag.String("server", "1", "Run the api service")
	restore := flag.String("restore", "", "Restore a snapshot file before serving")
	config := flag.String("config", "", "Config file")
	flagConfig = make(map[string]*string)
	flagConfig["server_port"] = flag.String("server_port", "", "server port")
	flagConfig["https_pem_file"] = flag.String("https_pem_file", "", "http pem file")
	flagConfig["https_key_file"] = flag.String("https_key_file", "", "https key file")
	flagConfig["domain_name"] = flag.String("domain_name", "", "domain name")
	flagConfig["mongo_uri"] = flag.String("mongo_uri", "", "mongodb uri")
	flagConfig["mongo_db_name"] = flag.String("mongo_db_name", "", "mongodb database name")
	flagConfig["pebble_dir"] = flag.String("pebble_dir", "", "pebble data directory")
	flagConfig["contract_owner"] = flag.String("contract_owner", "", "contract owner address")
	flagConfig["contract_fee"] = flag.String("contract_fee", "", "platform fee fraction")

	if !flag.Parsed() {
		flag.Parse()
	}
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "args:\n")
		flag.PrintDefaults()
	}
	Db = *db
	Server = *server
	Restore = *restore
	configFile = *config
	return
}

func CheckAdminToken(token string) (ok bool) {
	if Config == nil || Config.AdminToken == "" {
		return false
	}
	return token == Config.AdminToken
}
