package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/saworbit/hangfuzz/internal/platform"
	"github.com/saworbit/hangfuzz/pkg/driver"
)

// FuzzConfig holds configuration for a fuzz campaign
type FuzzConfig struct {
	// Target is the executable launched on every iteration
	Target string

	// Args are passed to the target unchanged (none by default)
	Args []string

	// Timeout bounds a single invocation; exceeding it counts as a hang
	Timeout time.Duration

	// Iterations is the number of sequential invocations
	Iterations int

	// KillGrace bounds how long Wait may block on leaked pipes after a kill
	KillGrace time.Duration

	// StateDir enables the pebble session journal when non-empty
	StateDir string

	// MetricsAddr enables the Prometheus endpoint when non-empty
	MetricsAddr string

	// HashAlgo selects the CID hash for captured output ("sha256" or "blake3")
	HashAlgo string

	// FailOnHang makes the campaign exit non-zero when any iteration hung
	FailOnHang bool

	// WaitForTarget blocks the campaign until the target file exists
	WaitForTarget bool

	// WaitTimeout bounds WaitForTarget
	WaitTimeout time.Duration
}

const (
	DefaultTarget     = "./target/debug/job"
	DefaultTimeout    = 2 * time.Second
	DefaultIterations = 2000
)

// DefaultConfig returns the default configuration
func DefaultConfig() *FuzzConfig {
	return &FuzzConfig{
		Target:      platform.ExecutableName(DefaultTarget),
		Timeout:     DefaultTimeout,
		Iterations:  DefaultIterations,
		KillGrace:   driver.DefaultKillGrace,
		HashAlgo:    "sha256",
		WaitTimeout: 5 * time.Minute,
	}
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *FuzzConfig {
	cfg := DefaultConfig()

	if target := os.Getenv("HANGFUZZ_TARGET"); target != "" {
		cfg.Target = target
	}

	if args := os.Getenv("HANGFUZZ_ARGS"); args != "" {
		cfg.Args = strings.Fields(args)
	}

	if timeout := os.Getenv("HANGFUZZ_TIMEOUT"); timeout != "" {
		if d, err := ParseSeconds(timeout); err == nil {
			cfg.Timeout = d
		} else {
			ignoring("HANGFUZZ_TIMEOUT", timeout, cfg.Timeout)
		}
	}

	if iterations := os.Getenv("HANGFUZZ_ITERATIONS"); iterations != "" {
		if n, err := strconv.Atoi(iterations); err == nil {
			cfg.Iterations = n
		} else {
			ignoring("HANGFUZZ_ITERATIONS", iterations, cfg.Iterations)
		}
	}

	if grace := os.Getenv("HANGFUZZ_KILL_GRACE"); grace != "" {
		if d, err := ParseSeconds(grace); err == nil {
			cfg.KillGrace = d
		} else {
			ignoring("HANGFUZZ_KILL_GRACE", grace, cfg.KillGrace)
		}
	}

	if dir := os.Getenv("HANGFUZZ_STATE_DIR"); dir != "" {
		cfg.StateDir = dir
	}

	if addr := os.Getenv("HANGFUZZ_METRICS_ADDR"); addr != "" {
		cfg.MetricsAddr = addr
	}

	if hashAlgo := os.Getenv("HANGFUZZ_HASH_ALGO"); hashAlgo != "" {
		cfg.HashAlgo = hashAlgo
	}

	if v := os.Getenv("HANGFUZZ_FAIL_ON_HANG"); v != "" {
		cfg.FailOnHang = parseBool(v)
	}

	if v := os.Getenv("HANGFUZZ_WAIT_FOR_TARGET"); v != "" {
		cfg.WaitForTarget = parseBool(v)
	}

	if v := os.Getenv("HANGFUZZ_WAIT_TIMEOUT"); v != "" {
		if d, err := ParseSeconds(v); err == nil {
			cfg.WaitTimeout = d
		} else {
			ignoring("HANGFUZZ_WAIT_TIMEOUT", v, cfg.WaitTimeout)
		}
	}

	return cfg
}

// Validate checks if the configuration is valid
func (c *FuzzConfig) Validate() error {
	if strings.TrimSpace(c.Target) == "" {
		return fmt.Errorf("target must not be empty")
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got: %s", c.Timeout)
	}

	if c.Iterations < 0 {
		return fmt.Errorf("iterations must be >= 0, got: %d", c.Iterations)
	}

	if c.KillGrace < 0 {
		return fmt.Errorf("kill grace must be >= 0, got: %s", c.KillGrace)
	}

	if c.HashAlgo != "sha256" && c.HashAlgo != "blake3" {
		return fmt.Errorf("invalid hash algorithm: %s (must be 'sha256' or 'blake3')", c.HashAlgo)
	}

	if c.WaitForTarget && c.WaitTimeout <= 0 {
		return fmt.Errorf("wait timeout must be positive when waiting for the target, got: %s", c.WaitTimeout)
	}

	return nil
}

// WorstCaseDuration is the campaign duration if every iteration hangs.
func (c *FuzzConfig) WorstCaseDuration() time.Duration {
	return time.Duration(c.Iterations) * (c.Timeout + c.KillGrace)
}

// ParseSeconds accepts a Go duration ("1500ms") or a bare number of seconds ("2", "0.5").
func ParseSeconds(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if d, err := time.ParseDuration(raw); err == nil {
		return d, nil
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func ignoring(name, raw string, fallback any) {
	log.Printf("[config] ignoring %s=%q, using %v", name, raw, fallback)
}

func parseBool(v string) bool {
	return v == "1" || v == "true" || v == "TRUE"
}
