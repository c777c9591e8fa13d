package config

// TransportConfig describes one transport proto and its endpoints.
// Example YAML:
//
//	transports:
//	  - proto: tcp
//	    listen: [":7470"]
//	    dial: ["10.0.0.2:7470"]
//	  - proto: quic
//	    listen: [":7472"]
//	  - proto: ws
//	    listen: [":7473/mesh"]
//	  - proto: mem
//	    listen: ["node-a"]
type TransportConfig struct {
	Proto  string   `mapstructure:"proto"`
	Listen []string `mapstructure:"listen"`
	Dial   []string `mapstructure:"dial"`
}
