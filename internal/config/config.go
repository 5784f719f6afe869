// Package config implements the ambient configuration layer
// (SPEC_FULL.md §10): an envconfig-driven ServerConfig.
package config

import "github.com/kelseyhightower/envconfig"

// ServerConfig is the complete process configuration, loaded once at
// startup from the environment.
type ServerConfig struct {
	Listener  Listener
	Cluster   Cluster
	Timeouts  Timeouts
	Resolver  Resolver
	Session   Session
	AccessLog AccessLog
	Cache     Cache
	Log       Log
}

// LoadServerConfig reads ServerConfig from the process environment
// with a single envconfig.Process("", &cfg) call.
func LoadServerConfig() (ServerConfig, error) {
	var cfg ServerConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

// Listener is the front controller's HTTP/1.x listen address plus its
// administrative mux routes (spec §6).
type Listener struct {
	Addr      string `envconfig:"BENGPROXY_LISTEN" default:":8080"`
	AdminAddr string `envconfig:"BENGPROXY_ADMIN_LISTEN" default:":8081"`
}

// Cluster configures the session id's cluster-node hash (spec §3.5,
// §8 "After set_cluster_node(N, k), cluster_hash(id) mod N == k").
type Cluster struct {
	Size uint32 `envconfig:"BENGPROXY_CLUSTER_SIZE" default:"1"`
	Node uint32 `envconfig:"BENGPROXY_CLUSTER_NODE" default:"0"`
}

// Timeouts carries protocol deadlines as envconfig-overridable
// durations. Only HTTPClientSocket is read (as the front controller's
// connection timeout); MemcacheControl, WASControl, InlineWidgetHeader
// and InlineWidgetBody are not read by any package, and the inline
// driver uses its own compiled-in header and body deadlines.
type Timeouts struct {
	HTTPClientSocket   string `envconfig:"BENGPROXY_TIMEOUT_HTTP_SOCKET" default:"30s"`
	MemcacheControl    string `envconfig:"BENGPROXY_TIMEOUT_MEMCACHE" default:"5s"`
	WASControl         string `envconfig:"BENGPROXY_TIMEOUT_WAS_CONTROL" default:"120s"`
	InlineWidgetHeader string `envconfig:"BENGPROXY_TIMEOUT_INLINE_HEADER" default:"5s"`
	InlineWidgetBody   string `envconfig:"BENGPROXY_TIMEOUT_INLINE_BODY" default:"10s"`
}

// Resolver configures the gRPC translation collaborator (component O)
// that maps class_name to WidgetClass.
type Resolver struct {
	TranslationTarget string `envconfig:"BENGPROXY_RESOLVER_TARGET" default:"127.0.0.1:9090"`
}

// Session configures the Redis-backed session store.
type Session struct {
	RedisAddr string `envconfig:"BENGPROXY_SESSION_REDIS_ADDR" default:"127.0.0.1:6379"`
	RedisDB   int    `envconfig:"BENGPROXY_SESSION_REDIS_DB" default:"0"`
	TTL       string `envconfig:"BENGPROXY_SESSION_TTL" default:"30m"`
}

// AccessLog configures the Postgres access-log sink.
type AccessLog struct {
	Enabled bool   `envconfig:"BENGPROXY_ACCESSLOG_ENABLED" default:"false"`
	DSN     string `envconfig:"BENGPROXY_ACCESSLOG_DSN"`
}

// Cache configures the NATS cache-invalidation publisher.
type Cache struct {
	Enabled bool   `envconfig:"BENGPROXY_CACHE_ENABLED" default:"false"`
	NatsURL string `envconfig:"BENGPROXY_CACHE_NATS_URL" default:"nats://127.0.0.1:4222"`
	Subject string `envconfig:"BENGPROXY_CACHE_SUBJECT" default:"bengproxy.cache.invalidate"`
}

// Log configures the zerolog global logger.
type Log struct {
	Level string `envconfig:"BENGPROXY_LOG_LEVEL" default:"info"`
	JSON  bool   `envconfig:"BENGPROXY_LOG_JSON" default:"true"`
}
