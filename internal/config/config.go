// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Server
	ServerPort  string
	MetricsPort string
	APIToken    string

	// Planning
	Timezone               string
	Location               *time.Location
	DaypartReferenceWeight float64
	MemeJitter             int
	ReelJitter             int
	StoryJitter            int
	RNGSeed                uint64

	// Assignment
	AutoAssign  bool
	AssignLimit int

	// Dispatch
	DispatchInterval time.Duration
	DispatchLimit    int
	PublishTimeout   time.Duration
	SkipGrace        time.Duration
	TagsPlacement    string

	// Publisher
	PublisherEndpoint string
	PublisherToken    string
	MediaProbe        bool

	// Lease / Events
	RedisURL     string
	KafkaBrokers []string
	KafkaTopic   string

	// Rate Limit
	RateLimitPerMinute int

	// Logging
	LogLevel string
}

// ErrDatabaseURLRequired はDBを使うコマンドでDATABASE_URLが未設定の場合のエラー。
var ErrDatabaseURLRequired = errors.New("DATABASE_URL が設定されていません")

// LoadDotEnv は存在する .env ファイルを読み込む。既に設定済みの環境変数は上書きしない。
func LoadDotEnv(files ...string) ([]string, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var loaded []string
	for _, file := range files {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return loaded, fmt.Errorf("%s の読み込みに失敗しました: %w", file, err)
		}
		loaded = append(loaded, file)
	}
	return loaded, nil
}

// Load は環境変数からConfigを読み込む。
// 数値や期間の形式が不正な場合は既定値を使う。タイムゾーンとタグ配置先が不正な場合はエラーを返す。
// DATABASE_URL の必須チェックはDBを使うコマンドが RequireDatabase で行う。
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),

		ServerPort:  getEnvString("SERVER_PORT", "8080"),
		MetricsPort: getEnvString("METRICS_PORT", "9090"),
		APIToken:    os.Getenv("API_TOKEN"),

		Timezone:               getEnvString("TIMEZONE", "Asia/Kolkata"),
		DaypartReferenceWeight: getEnvFloat("DAYPART_REFERENCE_WEIGHT", 2.5),
		MemeJitter:             getEnvInt("MEME_JITTER", 15),
		ReelJitter:             getEnvInt("REEL_JITTER", 12),
		StoryJitter:            getEnvInt("STORY_JITTER", 7),
		RNGSeed:                getEnvUint64("RNG_SEED", 0),

		AutoAssign:  getEnvBool("AUTO_ASSIGN", true),
		AssignLimit: getEnvInt("ASSIGN_LIMIT", 60),

		DispatchInterval: getEnvDuration("DISPATCH_INTERVAL", 5*time.Minute),
		DispatchLimit:    getEnvInt("DISPATCH_LIMIT", 30),
		PublishTimeout:   getEnvDuration("PUBLISH_TIMEOUT", 60*time.Second),
		SkipGrace:        getEnvDuration("SKIP_GRACE", 2*time.Hour),
		TagsPlacement:    getEnvString("TAGS_PLACEMENT", "caption"),

		PublisherEndpoint: os.Getenv("PUBLISHER_ENDPOINT"),
		PublisherToken:    os.Getenv("PUBLISHER_TOKEN"),
		MediaProbe:        getEnvBool("MEDIA_PROBE", false),

		RedisURL:     os.Getenv("REDIS_URL"),
		KafkaBrokers: getEnvList("KAFKA_BROKERS"),
		KafkaTopic:   getEnvString("KAFKA_TOPIC", "postplan.outcomes"),

		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 120),

		LogLevel: getEnvString("LOG_LEVEL", "info"),
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("TIMEZONE が不正です (%q): %w", cfg.Timezone, err)
	}
	cfg.Location = loc

	switch cfg.TagsPlacement {
	case "caption", "comment":
	default:
		return nil, fmt.Errorf("TAGS_PLACEMENT は caption か comment で指定してください: %q", cfg.TagsPlacement)
	}

	for _, j := range []int{cfg.MemeJitter, cfg.ReelJitter, cfg.StoryJitter} {
		if j < 0 {
			return nil, fmt.Errorf("ジッター幅は0以上で指定してください: %d", j)
		}
	}

	return cfg, nil
}

// RequireDatabase はDATABASE_URLが設定されているかを確認する。
func (c *Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return ErrDatabaseURLRequired
	}
	return nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvUint64(key string, defaultVal uint64) uint64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return defaultVal
	}
	return f
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// getEnvList はカンマ区切りの値を分割する。空要素は除く。
func getEnvList(key string) []string {
	var out []string
	for _, s := range strings.Split(os.Getenv(key), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
