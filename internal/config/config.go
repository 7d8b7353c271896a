package config

import (
	"flag"
	"fmt"
	"net"
	"strconv"
	"time"
)

// Constants for default values
const (
	DefaultListenAddr        = "0.0.0.0:0"
	DefaultDownloadsDir      = "downloads"
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultReadTimeout       = 2 * time.Minute
	DefaultWriteTimeout      = 30 * time.Second
	DefaultDialTimeout       = 5 * time.Second
	DefaultChunkSize         = 4096
	DefaultEventBuffer       = 256
)

// PeerList is a repeatable -peer flag value.
type PeerList []string

func (p *PeerList) String() string {
	return fmt.Sprintf("%v", *p)
}

func (p *PeerList) Set(value string) error {
	*p = append(*p, value)
	return nil
}

// Config holds all configuration parameters for a node.
type Config struct {
	// Network settings
	ListenAddress string
	Peers         PeerList

	// Identity
	Nickname string

	// File transfer settings
	DownloadsDir string
	ChunkSize    int

	// Timing
	HeartbeatInterval time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	DialTimeout       time.Duration

	// Front-end
	EventBuffer int
	Plain       bool
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	host, port, err := net.SplitHostPort(c.ListenAddress)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", c.ListenAddress, err)
	}
	if host != "" && net.ParseIP(host) == nil && host != "localhost" {
		return fmt.Errorf("invalid listen host %q", host)
	}
	if p, err := strconv.Atoi(port); err != nil || p < 0 || p > 65535 {
		return fmt.Errorf("invalid listen port %q", port)
	}

	for _, peer := range c.Peers {
		if _, _, err := net.SplitHostPort(peer); err != nil {
			return fmt.Errorf("invalid peer address %q: %w", peer, err)
		}
	}

	if c.DownloadsDir == "" {
		return fmt.Errorf("downloads directory must not be empty")
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive")
	}
	if c.ReadTimeout <= c.HeartbeatInterval {
		return fmt.Errorf("read timeout must exceed the heartbeat interval")
	}
	if c.WriteTimeout <= 0 || c.DialTimeout <= 0 {
		return fmt.Errorf("write and dial timeouts must be positive")
	}
	if c.EventBuffer <= 0 {
		return fmt.Errorf("event buffer must be positive")
	}

	return nil
}

// ParseFlags parses command line arguments and returns a Config.
func ParseFlags() (*Config, error) {
	listenAddr := flag.String("listen", DefaultListenAddr, "Address to listen on (port 0 = let the OS choose)")
	nickname := flag.String("nick", "", "Nickname to announce (default User_<port>)")
	downloadsDir := flag.String("downloads", DefaultDownloadsDir, "Directory for received files")
	chunkSize := flag.Int("chunk", DefaultChunkSize, "File transfer chunk size in bytes")
	heartbeat := flag.Duration("heartbeat", DefaultHeartbeatInterval, "Keepalive broadcast interval")
	readTimeout := flag.Duration("read-timeout", DefaultReadTimeout, "Idle read timeout before a peer is considered dead")
	writeTimeout := flag.Duration("write-timeout", DefaultWriteTimeout, "Per-frame write timeout")
	dialTimeout := flag.Duration("dial-timeout", DefaultDialTimeout, "Outbound connection timeout")
	plain := flag.Bool("plain", false, "Use plain line-oriented console instead of the TUI")

	var peers PeerList
	flag.Var(&peers, "peer", "Peer address to connect to at startup (repeatable)")

	flag.Parse()

	cfg := &Config{
		ListenAddress:     *listenAddr,
		Peers:             peers,
		Nickname:          *nickname,
		DownloadsDir:      *downloadsDir,
		ChunkSize:         *chunkSize,
		HeartbeatInterval: *heartbeat,
		ReadTimeout:       *readTimeout,
		WriteTimeout:      *writeTimeout,
		DialTimeout:       *dialTimeout,
		EventBuffer:       DefaultEventBuffer,
		Plain:             *plain,
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with all defaults applied, for embedding use.
func Default() *Config {
	return &Config{
		ListenAddress:     DefaultListenAddr,
		DownloadsDir:      DefaultDownloadsDir,
		ChunkSize:         DefaultChunkSize,
		HeartbeatInterval: DefaultHeartbeatInterval,
		ReadTimeout:       DefaultReadTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		DialTimeout:       DefaultDialTimeout,
		EventBuffer:       DefaultEventBuffer,
	}
}

// String returns a string representation of the config for logging.
func (c *Config) String() string {
	return fmt.Sprintf("Config{Listen: %s, Nick: %q, Downloads: %s, Chunk: %d, Heartbeat: %s, ReadTimeout: %s}",
		c.ListenAddress, c.Nickname, c.DownloadsDir, c.ChunkSize, c.HeartbeatInterval, c.ReadTimeout)
}
