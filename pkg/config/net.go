package config

import "time"

// NetConfig contains dial and relay tuning options.
type NetConfig struct {
	DialBackoffInitialMS int `mapstructure:"dial_backoff_initial_ms"`
	DialBackoffMaxMS     int `mapstructure:"dial_backoff_max_ms"`
	DialBackoffJitterMS  int `mapstructure:"dial_backoff_jitter_ms"`

	// AnnounceMaxSkewMS bounds the accepted announce timestamp drift.
	AnnounceMaxSkewMS int `mapstructure:"announce_max_skew_ms"`

	// DedupTTLMS is how long a relayed frame hash stays in the dedup cache.
	DedupTTLMS int `mapstructure:"dedup_ttl_ms"`

	// DefaultTTL is the hop budget stamped on locally originated messages.
	DefaultTTL uint8 `mapstructure:"default_ttl"`

	// RelayRateBytes caps relayed traffic in bytes per second. Zero disables
	// shaping. RelayBurstBytes is the bucket capacity; zero means one second
	// worth of rate.
	RelayRateBytes  int `mapstructure:"relay_rate_bytes"`
	RelayBurstBytes int `mapstructure:"relay_burst_bytes"`
}

func (n NetConfig) BackoffInitial() time.Duration {
	return time.Duration(n.DialBackoffInitialMS) * time.Millisecond
}

func (n NetConfig) BackoffMax() time.Duration {
	return time.Duration(n.DialBackoffMaxMS) * time.Millisecond
}

func (n NetConfig) BackoffJitter() time.Duration {
	return time.Duration(n.DialBackoffJitterMS) * time.Millisecond
}

func (n NetConfig) AnnounceMaxSkew() time.Duration {
	return time.Duration(n.AnnounceMaxSkewMS) * time.Millisecond
}

func (n NetConfig) DedupTTL() time.Duration {
	return time.Duration(n.DedupTTLMS) * time.Millisecond
}
