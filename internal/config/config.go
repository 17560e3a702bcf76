// Package config holds the tunables a chord peer needs at startup: network
// identity, ring and replication parameters, and maintenance cadence.
package config

import (
	"fmt"
	"time"
)

// Config holds all configuration for a chord peer.
type Config struct {
	// Node identification.
	Host string
	Port int

	// Bootstrap.
	GatewayAddr string // if set, Join(gateway) instead of StartChord

	// Ring parameters.
	RingBits          int           // finger-table size / ring bit width, reference 256
	NumSuccessors     int           // NUM_SUCCS, successor-list capacity
	StabilizeInterval time.Duration // T, the maintenance tick period
	RPCTimeout        time.Duration // per-request deadline
	ConnectTimeout    time.Duration // IsAlive probe deadline

	// Replication parameters for the fragment store.
	IDA_N int   // total fragments
	IDA_M int   // fragments needed to reconstruct
	IDA_P int64 // GF(p) prime modulus

	// Logging.
	LogLevel   string
	LogConsole bool
	LogFile    string

	// RingEvents exposes a websocket feed of join/leave/fragment events for
	// observability tooling; disabled unless an address is set.
	RingEventsAddr string

	// AuthToken, if set, is the shared secret every peer-to-peer RPC must
	// carry; every peer in a ring needs the same value. Empty disables the
	// check, the default for local development and tests.
	AuthToken string
}

// DefaultConfig returns the parameters used by the seed test scenarios.
func DefaultConfig() *Config {
	return &Config{
		Host:              "127.0.0.1",
		Port:              8470,
		RingBits:          256,
		NumSuccessors:     3,
		StabilizeInterval: 5 * time.Second,
		RPCTimeout:        5 * time.Second,
		ConnectTimeout:    2 * time.Second,
		IDA_N:             14,
		IDA_M:             10,
		IDA_P:             257,
		LogLevel:          "info",
		LogConsole:        true,
	}
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if c.RingBits <= 0 || c.RingBits > 256 {
		return fmt.Errorf("config: ring_bits must be between 1 and 256, got %d", c.RingBits)
	}
	if c.NumSuccessors <= 0 {
		return fmt.Errorf("config: num_successors must be positive, got %d", c.NumSuccessors)
	}
	if c.StabilizeInterval <= 0 {
		return fmt.Errorf("config: stabilize_interval must be positive, got %s", c.StabilizeInterval)
	}
	if c.RPCTimeout <= 0 {
		return fmt.Errorf("config: rpc_timeout must be positive, got %s", c.RPCTimeout)
	}
	if !(c.IDA_N > c.IDA_M) {
		return fmt.Errorf("config: ida_n must exceed ida_m, got n=%d m=%d", c.IDA_N, c.IDA_M)
	}
	if c.IDA_P <= int64(c.IDA_N) {
		return fmt.Errorf("config: ida_p must exceed ida_n, got p=%d n=%d", c.IDA_P, c.IDA_N)
	}
	return nil
}
