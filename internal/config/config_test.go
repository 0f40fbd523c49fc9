package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// clearEnv はテスト対象の環境変数を空にする。t.Setenvにより終了時に元へ戻る。
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DATABASE_URL", "SERVER_PORT", "METRICS_PORT", "API_TOKEN", "TIMEZONE",
		"DAYPART_REFERENCE_WEIGHT", "MEME_JITTER", "REEL_JITTER", "STORY_JITTER", "RNG_SEED",
		"AUTO_ASSIGN", "ASSIGN_LIMIT", "DISPATCH_INTERVAL", "DISPATCH_LIMIT", "PUBLISH_TIMEOUT",
		"SKIP_GRACE", "TAGS_PLACEMENT", "PUBLISHER_ENDPOINT", "PUBLISHER_TOKEN", "MEDIA_PROBE",
		"REDIS_URL", "KAFKA_BROKERS", "KAFKA_TOPIC", "RATE_LIMIT_PER_MINUTE", "LOG_LEVEL",
	} {
		// t.Setenv で終了時の復元を登録してから未設定にする
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.Timezone != "Asia/Kolkata" || cfg.Location.String() != "Asia/Kolkata" {
		t.Errorf("Timezone = %q, Location = %v", cfg.Timezone, cfg.Location)
	}
	if cfg.ServerPort != "8080" || cfg.MetricsPort != "9090" {
		t.Errorf("ports = %q/%q", cfg.ServerPort, cfg.MetricsPort)
	}
	if cfg.DispatchInterval != 5*time.Minute || cfg.DispatchLimit != 30 {
		t.Errorf("dispatch = %v/%d", cfg.DispatchInterval, cfg.DispatchLimit)
	}
	if cfg.PublishTimeout != 60*time.Second || cfg.SkipGrace != 2*time.Hour {
		t.Errorf("timeouts = %v/%v", cfg.PublishTimeout, cfg.SkipGrace)
	}
	if cfg.TagsPlacement != "caption" || cfg.DaypartReferenceWeight != 2.5 {
		t.Errorf("placement = %q, weight = %v", cfg.TagsPlacement, cfg.DaypartReferenceWeight)
	}
	if cfg.MemeJitter != 15 || cfg.ReelJitter != 12 || cfg.StoryJitter != 7 {
		t.Errorf("jitters = %d/%d/%d", cfg.MemeJitter, cfg.ReelJitter, cfg.StoryJitter)
	}
	if !cfg.AutoAssign || cfg.AssignLimit != 60 || cfg.MediaProbe {
		t.Errorf("assign = %v/%d probe = %v", cfg.AutoAssign, cfg.AssignLimit, cfg.MediaProbe)
	}
	if cfg.KafkaTopic != "postplan.outcomes" || len(cfg.KafkaBrokers) != 0 {
		t.Errorf("kafka = %v/%q", cfg.KafkaBrokers, cfg.KafkaTopic)
	}
	if cfg.RateLimitPerMinute != 120 || cfg.LogLevel != "info" || cfg.RNGSeed != 0 {
		t.Errorf("rate = %d log = %q seed = %d", cfg.RateLimitPerMinute, cfg.LogLevel, cfg.RNGSeed)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost:5432/postplan?sslmode=disable")
	t.Setenv("TIMEZONE", "UTC")
	t.Setenv("DISPATCH_INTERVAL", "1m")
	t.Setenv("TAGS_PLACEMENT", "comment")
	t.Setenv("AUTO_ASSIGN", "false")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("RNG_SEED", "42")
	t.Setenv("DAYPART_REFERENCE_WEIGHT", "1.5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Location != time.UTC {
		t.Errorf("Location = %v", cfg.Location)
	}
	if cfg.DispatchInterval != time.Minute || cfg.TagsPlacement != "comment" || cfg.AutoAssign {
		t.Errorf("cfg = %+v", cfg)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Errorf("KafkaBrokers = %v", cfg.KafkaBrokers)
	}
	if cfg.RNGSeed != 42 || cfg.DaypartReferenceWeight != 1.5 {
		t.Errorf("seed = %d weight = %v", cfg.RNGSeed, cfg.DaypartReferenceWeight)
	}
	if err := cfg.RequireDatabase(); err != nil {
		t.Errorf("RequireDatabase() = %v", err)
	}
}

func TestLoad_InvalidNumbersFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("DISPATCH_LIMIT", "many")
	t.Setenv("PUBLISH_TIMEOUT", "soon")
	t.Setenv("DAYPART_REFERENCE_WEIGHT", "-1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.DispatchLimit != 30 || cfg.PublishTimeout != 60*time.Second || cfg.DaypartReferenceWeight != 2.5 {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoad_InvalidSettings(t *testing.T) {
	tests := map[string]string{
		"TIMEZONE":       "Mars/Olympus",
		"TAGS_PLACEMENT": "footer",
		"MEME_JITTER":    "-3",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Errorf("%s=%s でエラーが返されなかった", key, value)
			}
		})
	}
}

func TestRequireDatabase_Missing(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := cfg.RequireDatabase(); err != ErrDatabaseURLRequired {
		t.Errorf("RequireDatabase() = %v", err)
	}
}

func TestLoadDotEnv_DoesNotOverrideProcessEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVER_PORT", "9999")

	path := filepath.Join(t.TempDir(), ".env")
	content := "SERVER_PORT=7777\nKAFKA_TOPIC=from-dotenv\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	if len(loaded) != 1 {
		t.Errorf("loaded = %v", loaded)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerPort != "9999" {
		t.Errorf("ServerPort = %q, 既存の環境変数が優先されること", cfg.ServerPort)
	}
	if cfg.KafkaTopic != "from-dotenv" {
		t.Errorf("KafkaTopic = %q", cfg.KafkaTopic)
	}
}
