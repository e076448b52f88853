package config

import (
	"os"

	"github.com/go-yaml/yaml"
)

type Config struct {
	Node   Node   `yaml:"node"`
	Server Server `yaml:"server"`
}

type Node struct {
	PrivateKey    string   `yaml:"privatekey"` // hex or nsec
	SeedPubKey    string   `yaml:"seedPubkey"` // trust fallback for fresh keys
	Relays        []string `yaml:"relays"`
	Mints         []string `yaml:"mints"`
	WotLevel      int      `yaml:"wotLevel"`
	RefreshMinute int      `yaml:"refreshMinute"`
}

type Server struct {
	Listen        string `yaml:"listen"`
	PostgresDsn   string `yaml:"postgresDsn"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisDB       int    `yaml:"redisDB"`
	MemcachedAddr string `yaml:"memcachedAddr"`
	CacheBackend  string `yaml:"cacheBackend"` // memory, redis, memcached
	EnableTrace   bool   `yaml:"enableTrace"`
	TraceEndpoint string `yaml:"traceEndpoint"`
}

func Load(path string) (Config, error) {

	file, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer file.Close()

	var config Config
	err = yaml.NewDecoder(file).Decode(&config)
	if err != nil {
		return Config{}, err
	}

	if config.Server.Listen == "" {
		config.Server.Listen = ":8000"
	}
	if config.Node.WotLevel < 1 {
		config.Node.WotLevel = 1
	}
	if config.Server.CacheBackend == "" {
		config.Server.CacheBackend = "memory"
	}

	return config, nil
}
