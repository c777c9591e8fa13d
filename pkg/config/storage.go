package config

import "time"

// PeersConfig controls the in-memory peer table.
type PeersConfig struct {
	// TTLSeconds is the inactivity window before a peer entry expires.
	TTLSeconds int `mapstructure:"ttl_seconds"`
}

func (p PeersConfig) TTL() time.Duration {
	return time.Duration(p.TTLSeconds) * time.Second
}

// DirectoryConfig controls the persistent announce store.
type DirectoryConfig struct {
	// Path of the bbolt database file. Empty resolves to
	// <data_dir>/directory.db.
	Path string `mapstructure:"path"`
}
