package stream

import (
	"crypto/tls"
	"fmt"
	"log/slog"

	"blackbird-libvirtd/internal/config"
)

func NewSinkFromConfig(cfg config.Config, tlsCfg *tls.Config, logger *slog.Logger) (Sink, error) {
	switch cfg.StreamMode {
	case config.StreamModeGRPC:
		return NewGRPCClient(cfg.BackendGRPCAddr, tlsCfg, cfg.BackendToken, cfg.GRPCRecordMethod, logger), nil
	case config.StreamModeWebSocket:
		return NewWebSocketClient(cfg.BackendWSURL, cfg.BackendToken, tlsCfg, cfg.WSWriteTimeout, cfg.WSPingInterval, logger), nil
	case config.StreamModeRedis:
		return NewRedisClient(cfg.RedisURL, tlsCfg, cfg.RedisKey, cfg.RedisMaxLen, logger)
	default:
		return nil, fmt.Errorf("unsupported stream mode %q", cfg.StreamMode)
	}
}
