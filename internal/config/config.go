// Package config loads feature-server configuration from the environment,
// following the env-var contract enumerated in the system's external
// interfaces: HTTP pooling, request timeouts, WebSocket handshake/ping/
// reconnect tuning, and logging.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable recognized by the Requestor layer. All fields
// have defaults; a missing environment variable falls back to its default.
type Config struct {
	LogLevel string `mapstructure:"log_level"`

	// HTTP webhook transport.
	HTTPPoolEnabled     bool          `mapstructure:"http_pool"`
	HTTPPoolSize        int           `mapstructure:"http_poolsize"`
	HTTPPipelining      int           `mapstructure:"http_pipelining"`
	// HTTPTimeout is read from HTTP_TIMEOUT (no _MS suffix, unlike the WS
	// *_MS variables), expressed in milliseconds like its siblings.
	HTTPTimeout         time.Duration `mapstructure:"http_timeout"`
	HTTPProxyIP         string        `mapstructure:"http_proxy_ip"`
	HTTPProxyPort       int           `mapstructure:"http_proxy_port"`
	HTTPProxyProtocol   string        `mapstructure:"http_proxy_protocol"`
	HTTPUserAgentHeader string        `mapstructure:"http_user_agent_header"`
	HTTPPoolIdleTTL     time.Duration `mapstructure:"http_pool_idle_ttl"`

	// WebSocket webhook transport.
	ResponseTimeout        time.Duration `mapstructure:"response_timeout_ms"`
	WSPingInterval         time.Duration `mapstructure:"jambones_ws_ping_interval_ms"`
	MaxReconnects          int           `mapstructure:"max_reconnects"`
	WSHandshakeTimeout     time.Duration `mapstructure:"jambones_ws_handshake_timeout_ms"`
	WSMaxPayload           int64         `mapstructure:"jambones_ws_max_payload"`
	WSQueueHighWaterMark   int           `mapstructure:"ws_queue_high_water_mark"`
}

// Load builds a Config from environment variables, applying defaults for
// anything unset. Durations expressed in milliseconds in the environment
// (the *_MS variables) are converted to time.Duration on load.
func Load() *Config {
	v := viper.New()

	v.SetDefault("log_level", "info")

	v.SetDefault("http_pool", true)
	v.SetDefault("http_poolsize", 10)
	v.SetDefault("http_pipelining", 1)
	v.SetDefault("http_timeout", 10_000)
	v.SetDefault("http_proxy_ip", "")
	v.SetDefault("http_proxy_port", 0)
	v.SetDefault("http_proxy_protocol", "http")
	v.SetDefault("http_user_agent_header", "jambonz")
	v.SetDefault("http_pool_idle_ttl_ms", 60_000)

	v.SetDefault("response_timeout_ms", 5_000)
	v.SetDefault("jambones_ws_ping_interval_ms", 0)
	v.SetDefault("max_reconnects", 5)
	v.SetDefault("jambones_ws_handshake_timeout_ms", 1_500)
	v.SetDefault("jambones_ws_max_payload", 24*1024)
	v.SetDefault("ws_queue_high_water_mark", 1000)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, key := range []string{
		"log_level", "http_pool", "http_poolsize", "http_pipelining",
		"http_timeout", "http_proxy_ip", "http_proxy_port", "http_proxy_protocol",
		"http_user_agent_header", "http_pool_idle_ttl_ms", "response_timeout_ms",
		"jambones_ws_ping_interval_ms", "max_reconnects",
		"jambones_ws_handshake_timeout_ms", "jambones_ws_max_payload",
		"ws_queue_high_water_mark",
	} {
		_ = v.BindEnv(key, strings.ToUpper(key))
	}

	cfg := &Config{
		LogLevel:             v.GetString("log_level"),
		HTTPPoolEnabled:      v.GetBool("http_pool"),
		HTTPPoolSize:         v.GetInt("http_poolsize"),
		HTTPPipelining:       v.GetInt("http_pipelining"),
		HTTPTimeout:          v.GetDuration("http_timeout") * time.Millisecond,
		HTTPProxyIP:          v.GetString("http_proxy_ip"),
		HTTPProxyPort:        v.GetInt("http_proxy_port"),
		HTTPProxyProtocol:    v.GetString("http_proxy_protocol"),
		HTTPUserAgentHeader:  v.GetString("http_user_agent_header"),
		HTTPPoolIdleTTL:      v.GetDuration("http_pool_idle_ttl_ms") * time.Millisecond,
		ResponseTimeout:      v.GetDuration("response_timeout_ms") * time.Millisecond,
		WSPingInterval:       v.GetDuration("jambones_ws_ping_interval_ms") * time.Millisecond,
		MaxReconnects:        v.GetInt("max_reconnects"),
		WSHandshakeTimeout:   v.GetDuration("jambones_ws_handshake_timeout_ms") * time.Millisecond,
		WSMaxPayload:         v.GetInt64("jambones_ws_max_payload"),
		WSQueueHighWaterMark: v.GetInt("ws_queue_high_water_mark"),
	}

	// viper.GetDuration on a bare integer string parses it as nanoseconds;
	// since the env vars are already expressed in whole milliseconds we
	// read them as ints and scale explicitly below instead of relying on
	// viper's own duration parsing (which expects a unit suffix).
	cfg.HTTPTimeout = time.Duration(v.GetInt("http_timeout")) * time.Millisecond
	cfg.HTTPPoolIdleTTL = time.Duration(v.GetInt("http_pool_idle_ttl_ms")) * time.Millisecond
	cfg.ResponseTimeout = time.Duration(v.GetInt("response_timeout_ms")) * time.Millisecond
	cfg.WSPingInterval = time.Duration(v.GetInt("jambones_ws_ping_interval_ms")) * time.Millisecond
	cfg.WSHandshakeTimeout = time.Duration(v.GetInt("jambones_ws_handshake_timeout_ms")) * time.Millisecond

	return cfg
}
