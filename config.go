package artnet

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Config configures a Client, per spec.md §6's recognized options.
type Config struct {
	Interface   string `toml:"interface"`
	UnicastIP   string `toml:"unicast_ip"`
	BroadcastIP string `toml:"broadcast_ip"`

	ShortName string `toml:"short_name"`
	LongName  string `toml:"long_name"`
	EstaMan   uint16 `toml:"esta_man"`
	OemCode   uint16 `toml:"oem_code"`
	Style     uint8  `toml:"style"`

	PollInterval   time.Duration `toml:"-"`
	NodeTTL        time.Duration `toml:"-"`
	DMXMinInterval time.Duration `toml:"-"`
	DMXKeepalive   time.Duration `toml:"-"`
	Passive        bool          `toml:"passive"`

	// StrictDecode selects DecodeStrict over Decode for inbound
	// datagrams, per spec.md §4.1 ("BadOpCode if unknown and upper
	// layer is set to strict mode (default lenient)").
	StrictDecode bool `toml:"strict_decode"`

	// *_ms mirror the *_interval/_ttl/_keepalive fields above in
	// millisecond form for TOML decoding, since time.Duration has no
	// natural TOML representation — BurntSushi/toml decodes these as
	// plain integers and LoadConfigTOML converts them.
	PollIntervalMS   int64 `toml:"poll_interval"`
	NodeTTLMS        int64 `toml:"node_ttl"`
	DMXMinIntervalMS int64 `toml:"dmx_min_interval"`
	DMXKeepaliveMS   int64 `toml:"dmx_keepalive"`
}

// Defaults, per spec.md §6.
const (
	DefaultPollInterval   = 2500 * time.Millisecond
	DefaultDMXMinInterval = 25 * time.Millisecond
	DefaultDMXKeepalive   = 1 * time.Second
)

// DefaultConfig returns a Config with spec.md §6's defaults applied.
func DefaultConfig() Config {
	return Config{
		ShortName:      "goartnet",
		LongName:       "goartnet node",
		PollInterval:   DefaultPollInterval,
		NodeTTL:        DefaultNodeTTL,
		DMXMinInterval: DefaultDMXMinInterval,
		DMXKeepalive:   DefaultDMXKeepalive,
	}
}

// Validate enforces spec.md §7's ConflictingIPConfig rule: interface
// discovery and explicit IPs are mutually exclusive.
func (c Config) Validate() error {
	explicitIP := c.UnicastIP != "" || c.BroadcastIP != ""
	if explicitIP && (c.UnicastIP == "" || c.BroadcastIP == "") {
		return fmt.Errorf("%w: unicast_ip and broadcast_ip must both be set", ErrConflictingIPConfig)
	}
	if explicitIP && c.Interface != "" {
		return fmt.Errorf("%w: interface and unicast_ip/broadcast_ip both set", ErrConflictingIPConfig)
	}
	return nil
}

func (c Config) fillDurations() Config {
	out := c
	if out.PollIntervalMS > 0 {
		out.PollInterval = time.Duration(out.PollIntervalMS) * time.Millisecond
	} else if out.PollInterval == 0 {
		out.PollInterval = DefaultPollInterval
	}
	if out.NodeTTLMS > 0 {
		out.NodeTTL = time.Duration(out.NodeTTLMS) * time.Millisecond
	} else if out.NodeTTL == 0 {
		out.NodeTTL = DefaultNodeTTL
	}
	if out.DMXMinIntervalMS > 0 {
		out.DMXMinInterval = time.Duration(out.DMXMinIntervalMS) * time.Millisecond
	} else if out.DMXMinInterval == 0 {
		out.DMXMinInterval = DefaultDMXMinInterval
	}
	if out.DMXKeepaliveMS > 0 {
		out.DMXKeepalive = time.Duration(out.DMXKeepaliveMS) * time.Millisecond
	} else if out.DMXKeepalive == 0 {
		out.DMXKeepalive = DefaultDMXKeepalive
	}
	if out.ShortName == "" {
		out.ShortName = "goartnet"
	}
	if out.LongName == "" {
		out.LongName = "goartnet node"
	}
	return out
}

// LoadConfigTOML loads a Config from a TOML file, grounded on the
// teacher's config.Load (config/config.go).
func LoadConfigTOML(path string) (Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	cfg = cfg.fillDurations()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
