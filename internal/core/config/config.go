package config

import (
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type PostgresCfg struct {
	Host         string
	Port         string
	User         string
	Password     string
	DB           string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

// DSN renders a lib/pq connection URL.
func (p PostgresCfg) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		Host:     p.Host + ":" + p.Port,
		Path:     "/" + p.DB,
		RawQuery: "sslmode=" + url.QueryEscape(p.SSLMode),
	}
	if p.Password != "" {
		u.User = url.UserPassword(p.User, p.Password)
	} else {
		u.User = url.User(p.User)
	}
	return u.String()
}

type NamingCfg struct {
	Schema             string
	PartsPrefix        string
	PartsSuffix        string
	PolygonPartsPrefix string
	PolygonPartsSuffix string
}

type CacheCfg struct {
	Driver    string // none | local | redis
	RedisAddr string
	RedisPass string
	RedisDB   int
	RedisPool int
	TTL       time.Duration
	TTLOvr    map[string]time.Duration
	LocalSize int
	OpTimeout time.Duration
}

type KafkaCfg struct {
	Brokers             string
	Topic               string
	GroupID             string
	EventsEnabled       bool
	InvalidationEnabled bool
}

type MetricsCfg struct {
	Enabled bool
	Addr    string
	Path    string
}

type Config struct {
	Addr                   string
	LogLevel               string
	LogConsole             bool
	LogSampleN             int
	StoreDriver            string // postgres | memory
	Postgres               PostgresCfg
	Naming                 NamingCfg
	AggregationMaxDecimals int
	IngestTimeout          time.Duration
	Cache                  CacheCfg
	CatalogURL             string
	Kafka                  KafkaCfg
	Metrics                MetricsCfg
}

func FromEnv() Config {
	digits := getint("AGGREGATION_MAX_DECIMAL_DIGITS", 7)
	if digits < 0 || digits > 15 {
		digits = 7
	}
	localSize := getint("CACHE_LOCAL_SIZE", 1024)
	if localSize <= 0 {
		localSize = 1024
	}

	return Config{
		Addr:        getenv("ADDR", ":8080"),
		LogLevel:    getenv("LOG_LEVEL", "info"),
		LogConsole:  getbool("LOG_CONSOLE", false),
		LogSampleN:  getint("LOG_SAMPLE_N", 0),
		StoreDriver: strings.ToLower(getenv("STORE_DRIVER", "postgres")),
		Postgres: PostgresCfg{
			Host:         getenv("PG_HOST", "localhost"),
			Port:         getenv("PG_PORT", "5432"),
			User:         getenv("PG_USER", "postgres"),
			Password:     os.Getenv("PG_PASSWORD"),
			DB:           getenv("PG_DB", "polygon_parts"),
			SSLMode:      getenv("PG_SSLMODE", "disable"),
			MaxOpenConns: getint("PG_MAX_OPEN_CONNS", 20),
			MaxIdleConns: getint("PG_MAX_IDLE_CONNS", 10),
		},
		Naming: NamingCfg{
			Schema:             getenv("DB_SCHEMA", "polygon_parts"),
			PartsPrefix:        os.Getenv("PARTS_NAME_PREFIX"),
			PartsSuffix:        getenv("PARTS_NAME_SUFFIX", "_parts"),
			PolygonPartsPrefix: os.Getenv("POLYGON_PARTS_NAME_PREFIX"),
			PolygonPartsSuffix: os.Getenv("POLYGON_PARTS_NAME_SUFFIX"),
		},
		AggregationMaxDecimals: digits,
		IngestTimeout:          getduration("INGEST_TIMEOUT", 2*time.Minute),
		Cache: CacheCfg{
			Driver:    strings.ToLower(getenv("CACHE_DRIVER", "none")),
			RedisAddr: getenv("REDIS_ADDR", "localhost:6379"),
			RedisPass: os.Getenv("REDIS_PASSWORD"),
			RedisDB:   getint("REDIS_DB", 0),
			RedisPool: getint("REDIS_POOL_SIZE", 32),
			TTL:       getduration("CACHE_TTL", 5*time.Minute),
			TTLOvr:    parseDurationMap(getenv("CACHE_TTL_OVERRIDES", "")),
			LocalSize: localSize,
			OpTimeout: getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
		},
		CatalogURL: strings.TrimRight(getenv("CATALOG_URL", "http://localhost:8081"), "/"),
		Kafka: KafkaCfg{
			Brokers:             getenv("KAFKA_BROKERS", "localhost:9092"),
			Topic:               getenv("KAFKA_TOPIC", "polygon-parts-changes"),
			GroupID:             getenv("KAFKA_GROUP_ID", "polygon-parts-aggregation-cache"),
			EventsEnabled:       getbool("EVENTS_ENABLED", false),
			InvalidationEnabled: getbool("INVALIDATION_ENABLED", false),
		},
		Metrics: MetricsCfg{
			Enabled: getbool("METRICS_ENABLED", true),
			Addr:    getenv("METRICS_ADDR", ":9100"),
			Path:    getenv("METRICS_PATH", "/metrics"),
		},
	}
}

// BrokerList splits the comma separated broker setting.
func (k KafkaCfg) BrokerList() []string {
	var out []string
	for b := range strings.SplitSeq(k.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// parse "partition=5m,other=30s" into map
func parseDurationMap(s string) map[string]time.Duration {
	out := map[string]time.Duration{}
	s = strings.TrimSpace(s)
	if s == "" {
		return out
	}
	parts := strings.SplitSeq(s, ",")
	for p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		k := strings.TrimSpace(kv[0])
		v := strings.TrimSpace(kv[1])
		if k == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err == nil {
			out[k] = d
		}
	}
	return out
}
