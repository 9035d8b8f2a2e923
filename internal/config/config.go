package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"blackbird-libvirtd/internal/system"
)

type StreamMode string

const (
	StreamModeGRPC      StreamMode = "grpc"
	StreamModeWebSocket StreamMode = "websocket"
	StreamModeRedis     StreamMode = "redis"
)

const envPrefix = "BLACKBIRD_LIBVIRTD_"

// ModuleVersion is reported as blackbird.<module>.version. Set at build time with
// -ldflags "-X blackbird-libvirtd/internal/config.ModuleVersion=...".
var ModuleVersion = "0.1.0"

type Config struct {
	Path             string
	Hostname         string
	Module           string
	LibvirtSocket    string
	LibvirtURI       string
	ProbeListenAddr  string
	Interval         time.Duration
	CycleTimeout     time.Duration
	VersionTimeout   time.Duration
	DaemonTimeout    time.Duration
	ShutdownTimeout  time.Duration
	QueueSize        int
	BatchSize        int
	FlushInterval    time.Duration
	SendBackoff      time.Duration
	StreamMode       StreamMode
	BackendGRPCAddr  string
	GRPCRecordMethod string
	BackendWSURL     string
	WSWriteTimeout   time.Duration
	WSPingInterval   time.Duration
	RedisURL         string
	RedisKey         string
	RedisMaxLen      int64
	BackendToken     string
	AgentVersion     string
	TLSEnabled       bool
	TLSSkipVerify    bool
	TLSCAPath        string
	TLSCertPath      string
	TLSKeyPath       string
	LogJSON          bool
	LogLevel         string
}

func Load() (Config, error) {
	cfg := Config{
		Path:             env("PATH", "/usr/sbin/libvirtd"),
		Hostname:         env("HOSTNAME", ""),
		Module:           env("MODULE", "libvirtd"),
		LibvirtSocket:    env("LIBVIRT_SOCKET", "/var/run/libvirt/libvirt-sock-ro"),
		LibvirtURI:       env("LIBVIRT_URI", "qemu:///system"),
		ProbeListenAddr:  env("PROBE_ADDR", "127.0.0.1:7443"),
		Interval:         envDuration("INTERVAL", 60*time.Second),
		CycleTimeout:     envDuration("CYCLE_TIMEOUT", 30*time.Second),
		VersionTimeout:   envDuration("VERSION_TIMEOUT", 5*time.Second),
		DaemonTimeout:    envDuration("DAEMON_TIMEOUT", 10*time.Second),
		ShutdownTimeout:  envDuration("SHUTDOWN_TIMEOUT", 20*time.Second),
		QueueSize:        envInt("QUEUE_SIZE", 1024),
		BatchSize:        envInt("BATCH_SIZE", 100),
		FlushInterval:    envDuration("FLUSH_INTERVAL", time.Second),
		SendBackoff:      envDuration("SEND_BACKOFF", 1500*time.Millisecond),
		StreamMode:       StreamMode(strings.ToLower(env("STREAM_MODE", string(StreamModeGRPC)))),
		BackendGRPCAddr:  env("GRPC_ADDR", "127.0.0.1:3001"),
		GRPCRecordMethod: env("GRPC_METHOD", "/blackbird.metrics.v1.MetricsService/PushRecords"),
		BackendWSURL:     env("WS_URL", "ws://127.0.0.1:3001/ws/records"),
		WSWriteTimeout:   envDuration("WS_WRITE_TIMEOUT", 5*time.Second),
		WSPingInterval:   envDuration("WS_PING_INTERVAL", 10*time.Second),
		RedisURL:         env("REDIS_URL", "redis://127.0.0.1:6379/0"),
		RedisKey:         env("REDIS_KEY", "blackbird:libvirtd:records"),
		RedisMaxLen:      int64(envInt("REDIS_MAX_LEN", 10000)),
		BackendToken:     env("TOKEN", ""),
		AgentVersion:     ModuleVersion,
		TLSEnabled:       envBool("TLS_ENABLED", false),
		TLSSkipVerify:    envBool("TLS_SKIP_VERIFY", false),
		TLSCAPath:        env("TLS_CA_PATH", ""),
		TLSCertPath:      env("TLS_CERT_PATH", ""),
		TLSKeyPath:       env("TLS_KEY_PATH", ""),
		LogJSON:          envBool("LOG_JSON", false),
		LogLevel:         strings.ToLower(env("LOG_LEVEL", "info")),
	}
	if cfg.Hostname == "" {
		cfg.Hostname = system.Hostname()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Path) == "" {
		return errors.New(envPrefix + "PATH is required")
	}
	if strings.TrimSpace(c.Hostname) == "" {
		return errors.New(envPrefix + "HOSTNAME is required")
	}
	if strings.TrimSpace(c.Module) == "" || strings.ContainsAny(c.Module, ". \t") {
		return fmt.Errorf("invalid module name %q", c.Module)
	}
	if strings.TrimSpace(c.AgentVersion) == "" {
		return errors.New("agent version must not be empty")
	}
	if c.LibvirtSocket == "" {
		return errors.New(envPrefix + "LIBVIRT_SOCKET is required")
	}
	if c.LibvirtURI == "" {
		return errors.New(envPrefix + "LIBVIRT_URI is required")
	}
	if strings.TrimSpace(c.ProbeListenAddr) == "" {
		return errors.New(envPrefix + "PROBE_ADDR is required")
	}
	if c.Interval <= 0 {
		return errors.New(envPrefix + "INTERVAL must be > 0")
	}
	if c.CycleTimeout <= 0 || c.VersionTimeout <= 0 || c.DaemonTimeout <= 0 {
		return errors.New("cycle, version and daemon timeouts must be > 0")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New(envPrefix + "SHUTDOWN_TIMEOUT must be > 0")
	}
	if c.QueueSize <= 0 {
		return errors.New(envPrefix + "QUEUE_SIZE must be > 0")
	}
	if c.BatchSize <= 0 || c.FlushInterval <= 0 {
		return errors.New("batch size and flush interval must be > 0")
	}
	switch c.StreamMode {
	case StreamModeGRPC:
		if c.BackendGRPCAddr == "" {
			return errors.New(envPrefix + "GRPC_ADDR is required for grpc mode")
		}
		if strings.TrimSpace(c.GRPCRecordMethod) == "" {
			return errors.New(envPrefix + "GRPC_METHOD is required for grpc mode")
		}
	case StreamModeWebSocket:
		if c.BackendWSURL == "" {
			return errors.New(envPrefix + "WS_URL is required for websocket mode")
		}
	case StreamModeRedis:
		if c.RedisURL == "" {
			return errors.New(envPrefix + "REDIS_URL is required for redis mode")
		}
		if c.RedisKey == "" {
			return errors.New(envPrefix + "REDIS_KEY is required for redis mode")
		}
	default:
		return fmt.Errorf("unsupported stream mode %q", c.StreamMode)
	}
	return nil
}

func (c Config) TLSConfig() (*tls.Config, error) {
	if !c.TLSEnabled {
		return nil, nil
	}
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: c.TLSSkipVerify}
	if c.TLSCAPath != "" {
		caBytes, err := os.ReadFile(c.TLSCAPath)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caBytes) {
			return nil, errors.New("append CA cert failed")
		}
		tlsCfg.RootCAs = pool
	}
	if c.TLSCertPath != "" || c.TLSKeyPath != "" {
		if c.TLSCertPath == "" || c.TLSKeyPath == "" {
			return nil, errors.New("both TLS cert and key are required")
		}
		crt, err := tls.LoadX509KeyPair(c.TLSCertPath, c.TLSKeyPath)
		if err != nil {
			return nil, fmt.Errorf("load mTLS cert/key: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{crt}
	}
	return tlsCfg, nil
}

func env(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(envPrefix + key))
	if v == "" {
		return fallback
	}
	return v
}

func envInt(key string, fallback int) int {
	v := env(key, "")
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envBool(key string, fallback bool) bool {
	v := strings.ToLower(env(key, ""))
	if v == "" {
		return fallback
	}
	switch v {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := env(key, "")
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
