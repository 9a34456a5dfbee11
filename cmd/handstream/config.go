package main

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/handstream/internal/protocol/compress"
	"github.com/danmuck/handstream/internal/protocol/session"
	"github.com/danmuck/handstream/internal/receiver"
	"github.com/danmuck/handstream/internal/recording"
	"github.com/danmuck/handstream/internal/sender"
)

// fileConfig mirrors the TOML keys. Durations accept a Go duration string
// or an integer millisecond form under the _ms key.
type fileConfig struct {
	ListenHost             string  `toml:"listen_host"`
	ListenPort             int     `toml:"listen_port"`
	PeerHost               string  `toml:"peer_host"`
	PeerPort               int     `toml:"peer_port"`
	Compression            string  `toml:"compression"`
	MaxMessageSize         int     `toml:"max_message_size"`
	KeepaliveInterval      string  `toml:"keepalive_interval"`
	KeepaliveIntervalMS    int64   `toml:"keepalive_interval_ms"`
	RetryDelay             string  `toml:"retry_delay"`
	RetryDelayMS           int64   `toml:"retry_delay_ms"`
	ReadTimeout            string  `toml:"read_timeout"`
	ReadTimeoutMS          int64   `toml:"read_timeout_ms"`
	RenderRateHz           float64 `toml:"render_rate_hz"`
	PhysicsRateHz          float64 `toml:"physics_rate_hz"`
	SnapshotQueueCapacity  int     `toml:"snapshot_queue_capacity"`
	HistoryCapacity        int     `toml:"history_capacity"`
	RecordingsDir          string  `toml:"recordings_dir"`
	ControlListenAddr      string  `toml:"control_listen_addr"`
	MetricsListenAddr      string  `toml:"metrics_listen_addr"`
	SnapshotPollInterval   string  `toml:"snapshot_poll_interval"`
	SnapshotPollIntervalMS int64   `toml:"snapshot_poll_interval_ms"`
}

// appConfig holds both runtimes; each subcommand uses its half.
type appConfig struct {
	Receiver receiver.Config
	Sender   sender.Config
}

func defaultAppConfig() appConfig {
	cfg := appConfig{
		Receiver: receiver.DefaultConfig(),
		Sender:   sender.DefaultConfig(),
	}
	if dir, err := recording.DefaultDir(); err == nil {
		cfg.Receiver.RecordingsDir = dir
	}
	return cfg
}

// loadConfig returns defaults overlaid with the keys present in path. An
// empty path returns the defaults.
func loadConfig(path string) (appConfig, error) {
	cfg := defaultAppConfig()
	path = strings.TrimSpace(path)
	if path == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return appConfig{}, fmt.Errorf("load handstream config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return appConfig{}, fmt.Errorf("load handstream config: unknown key %q", undecoded[0].String())
	}

	listenHost, listenPort := splitAddr(cfg.Receiver.StreamAddress)
	if meta.IsDefined("listen_host") {
		listenHost = strings.TrimSpace(raw.ListenHost)
	}
	if meta.IsDefined("listen_port") {
		listenPort = raw.ListenPort
	}
	listen := net.JoinHostPort(listenHost, strconv.Itoa(listenPort))
	cfg.Receiver.StreamAddress = listen
	cfg.Receiver.DatagramAddress = listen

	peerHost, peerPort := splitAddr(cfg.Sender.StreamAddress)
	if meta.IsDefined("peer_host") {
		peerHost = strings.TrimSpace(raw.PeerHost)
	}
	if meta.IsDefined("peer_port") {
		peerPort = raw.PeerPort
	}
	peer := net.JoinHostPort(peerHost, strconv.Itoa(peerPort))
	cfg.Sender.StreamAddress = peer
	cfg.Sender.DatagramAddress = peer

	if meta.IsDefined("compression") {
		a, err := compress.ParseAlgorithm(raw.Compression)
		if err != nil {
			return appConfig{}, fmt.Errorf("parse compression: %w", err)
		}
		cfg.Receiver.Compression = a
		cfg.Sender.Compression = a
	}

	sessionCfg := cfg.Receiver.Session
	if meta.IsDefined("max_message_size") {
		sessionCfg.MaxMessageSize = raw.MaxMessageSize
	}
	if err := applyDuration(meta, "keepalive_interval", raw.KeepaliveInterval, raw.KeepaliveIntervalMS, &sessionCfg.KeepaliveInterval); err != nil {
		return appConfig{}, err
	}
	if err := applyDuration(meta, "read_timeout", raw.ReadTimeout, raw.ReadTimeoutMS, &sessionCfg.ReadTimeout); err != nil {
		return appConfig{}, err
	}
	retry := sessionCfg.Backoff.InitialDelay
	if err := applyDuration(meta, "retry_delay", raw.RetryDelay, raw.RetryDelayMS, &retry); err != nil {
		return appConfig{}, err
	}
	sessionCfg.Backoff = session.FixedBackoff(retry)
	cfg.Receiver.Session = sessionCfg
	cfg.Sender.Session = sessionCfg

	if meta.IsDefined("render_rate_hz") {
		cfg.Receiver.RenderRateHz = raw.RenderRateHz
		cfg.Sender.RenderRateHz = raw.RenderRateHz
	}
	if meta.IsDefined("physics_rate_hz") {
		cfg.Receiver.PhysicsRateHz = raw.PhysicsRateHz
		cfg.Sender.PhysicsRateHz = raw.PhysicsRateHz
	}
	if meta.IsDefined("snapshot_queue_capacity") {
		cfg.Receiver.Delivery.SnapshotCapacity = raw.SnapshotQueueCapacity
	}
	if meta.IsDefined("history_capacity") {
		cfg.Receiver.HistoryCapacity = raw.HistoryCapacity
	}
	if meta.IsDefined("recordings_dir") {
		cfg.Receiver.RecordingsDir = strings.TrimSpace(raw.RecordingsDir)
	}
	if meta.IsDefined("control_listen_addr") {
		cfg.Receiver.ControlAddress = strings.TrimSpace(raw.ControlListenAddr)
	}
	if meta.IsDefined("metrics_listen_addr") {
		cfg.Receiver.MetricsAddress = strings.TrimSpace(raw.MetricsListenAddr)
	}
	if err := applyDuration(meta, "snapshot_poll_interval", raw.SnapshotPollInterval, raw.SnapshotPollIntervalMS, &cfg.Sender.SnapshotPollInterval); err != nil {
		return appConfig{}, err
	}
	return cfg, nil
}

// applyDuration sets *dst from key or key_ms when either is present. The
// _ms form wins when both are set.
func applyDuration(meta toml.MetaData, key, text string, ms int64, dst *time.Duration) error {
	if meta.IsDefined(key) {
		d, err := time.ParseDuration(strings.TrimSpace(text))
		if err != nil {
			return fmt.Errorf("parse %s: %w", key, err)
		}
		*dst = d
	}
	if meta.IsDefined(key + "_ms") {
		*dst = time.Duration(ms) * time.Millisecond
	}
	return nil
}

func splitAddr(addr string) (string, int) {
	host, portText, err := net.SplitHostPort(addr)
	if err != nil {
		return receiver.DefaultHost, receiver.DefaultPort
	}
	port, err := strconv.Atoi(portText)
	if err != nil {
		return host, receiver.DefaultPort
	}
	return host, port
}
