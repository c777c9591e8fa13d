package config

// IdentityConfig describes where the node key material lives.
type IdentityConfig struct {
	// KeyFile is the path to the JSON key file. Empty means a fresh
	// ephemeral identity on every start.
	KeyFile string `mapstructure:"key_file"`
}
