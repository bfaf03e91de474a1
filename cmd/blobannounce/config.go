package main

import (
	"os"
	"time"

	"github.com/cenkalti/blobannounce/announcer"
	"github.com/cenkalti/blobannounce/internal/dhtnode"
	"github.com/cenkalti/blobannounce/internal/reannounce"
	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v2"
)

type config struct {
	// Path of the schedule database.
	Database string `yaml:"database"`
	// Time between stats printed by the run command. Zero disables.
	StatsInterval time.Duration `yaml:"stats_interval"`
	LogLevel      string        `yaml:"log_level"`

	Announcer  announcer.Config  `yaml:"announcer"`
	DHT        dhtnode.Config    `yaml:"dht"`
	Reannounce reannounce.Config `yaml:"reannounce"`
}

var defaultConfig = config{
	Database:      "~/.blobannounce/schedule.db",
	StatsInterval: time.Minute,
	LogLevel:      "info",
	Announcer:     announcer.DefaultConfig,
	DHT:           dhtnode.DefaultConfig,
	Reannounce:    reannounce.DefaultConfig,
}

// loadConfig returns the default config when the file does not exist.
// Keys missing in the file keep their default values.
func loadConfig(filename string) (*config, error) {
	c := defaultConfig
	filename, err := homedir.Expand(filename)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(filename)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err = yaml.Unmarshal(b, &c); err != nil {
			return nil, err
		}
	}
	c.Database, err = homedir.Expand(c.Database)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
