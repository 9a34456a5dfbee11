package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/handstream/internal/protocol/frame"
)

var ErrInvalidConfig = errors.New("session: invalid config")

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// FixedBackoff waits delay between every attempt.
func FixedBackoff(delay time.Duration) BackoffConfig {
	return BackoffConfig{
		InitialDelay: delay,
		Multiplier:   1.0,
		MaxDelay:     delay,
	}
}

// Config defines stream channel reliability defaults.
type Config struct {
	ConnectTimeout    time.Duration
	WriteTimeout      time.Duration
	ReadTimeout       time.Duration
	KeepaliveInterval time.Duration
	MaxMessageSize    int
	Backoff           BackoffConfig
}

// DefaultConfig returns the stream defaults: a keepalive every 5s, a peer
// considered dead after three missed keepalives, and a fixed 5s reconnect
// delay.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:    5 * time.Second,
		WriteTimeout:      5 * time.Second,
		ReadTimeout:       15 * time.Second,
		KeepaliveInterval: 5 * time.Second,
		MaxMessageSize:    frame.DefaultMaxMessageSize,
		Backoff:           FixedBackoff(5 * time.Second),
	}
}

func (c Config) Validate() error {
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("%w: max_message_size=%d", ErrInvalidConfig, c.MaxMessageSize)
	}
	if c.KeepaliveInterval < 0 || c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.ConnectTimeout < 0 {
		return fmt.Errorf("%w: negative timeout", ErrInvalidConfig)
	}
	if c.Backoff.InitialDelay <= 0 {
		return fmt.Errorf("%w: retry delay must be > 0", ErrInvalidConfig)
	}
	return nil
}
