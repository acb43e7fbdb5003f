package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"testing"
	"time"

	"pgregory.net/rapid"
)

var validLogLevels = []string{"debug", "info", "warn", "error"}

// durationDefaults maps every duration key to its default.
var durationDefaults = map[string]time.Duration{
	"READ_TIMEOUT":        5 * time.Second,
	"WRITE_TIMEOUT":       10 * time.Second,
	"IDLE_TIMEOUT":        60 * time.Second,
	"SHUTDOWN_TIMEOUT":    10 * time.Second,
	"SNAPSHOT_INTERVAL":   30 * time.Second,
	"RESOLUTION_INTERVAL": 5 * time.Second,
}

var durationEnvKeys = []string{
	"READ_TIMEOUT",
	"WRITE_TIMEOUT",
	"IDLE_TIMEOUT",
	"SHUTDOWN_TIMEOUT",
	"SNAPSHOT_INTERVAL",
	"RESOLUTION_INTERVAL",
}

var allEnvKeys = append([]string{
	"PORT", "LOG_LEVEL", "DATA_DIR", "WEBHOOK_SECRET", "CORS_ORIGINS",
	"KAFKA_BROKERS", "KAFKA_TOPIC", "BUS_BUFFER",
}, durationEnvKeys...)

func unsetAllConfigEnv() {
	for _, key := range allEnvKeys {
		os.Unsetenv(key)
	}
}

func durationOf(cfg *Config, key string) time.Duration {
	switch key {
	case "READ_TIMEOUT":
		return cfg.ReadTimeout
	case "WRITE_TIMEOUT":
		return cfg.WriteTimeout
	case "IDLE_TIMEOUT":
		return cfg.IdleTimeout
	case "SHUTDOWN_TIMEOUT":
		return cfg.ShutdownTimeout
	case "SNAPSHOT_INTERVAL":
		return cfg.SnapshotInterval
	case "RESOLUTION_INTERVAL":
		return cfg.ResolutionInterval
	}
	panic("unknown duration key " + key)
}

// optional draws either "" (use the default) or a value from gen.
func optional(gen *rapid.Generator[string]) *rapid.Generator[string] {
	return rapid.OneOf(rapid.Just(""), gen)
}

var genDuration = rapid.Custom(func(t *rapid.T) time.Duration {
	unit := rapid.SampledFrom([]time.Duration{time.Millisecond, time.Second, time.Minute}).Draw(t, "unit")
	return time.Duration(rapid.IntRange(1, 600).Draw(t, "n")) * unit
})

var genHostPort = rapid.Custom(func(t *rapid.T) string {
	host := rapid.StringMatching(`[a-z][a-z0-9]{0,8}`).Draw(t, "host")
	return fmt.Sprintf("%s:%d", host, rapid.IntRange(1, 65535).Draw(t, "port"))
})

func TestProperty_ValidConfigParsing(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		unsetAllConfigEnv()
		defer unsetAllConfigEnv()

		port := optional(rapid.Map(rapid.IntRange(1, 65535), strconv.Itoa)).Draw(t, "port")
		level := optional(rapid.SampledFrom(validLogLevels)).Draw(t, "level")
		buffer := optional(rapid.Map(rapid.IntRange(1, 1<<16), strconv.Itoa)).Draw(t, "buffer")

		durs := make(map[string]time.Duration, len(durationEnvKeys))
		for _, key := range durationEnvKeys {
			if rapid.Bool().Draw(t, key+"_set") {
				durs[key] = genDuration.Draw(t, key)
			}
		}

		setIf := func(key, val string) {
			if val != "" {
				os.Setenv(key, val)
			}
		}
		setIf("PORT", port)
		setIf("LOG_LEVEL", level)
		setIf("BUS_BUFFER", buffer)
		for key, d := range durs {
			os.Setenv(key, d.String())
		}

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() returned error for valid inputs: %v", err)
		}

		wantPort := 8080
		if port != "" {
			wantPort, _ = strconv.Atoi(port)
		}
		if cfg.Port != wantPort {
			t.Fatalf("Port = %d, want %d", cfg.Port, wantPort)
		}

		wantLevel := "info"
		if level != "" {
			wantLevel = level
		}
		if cfg.LogLevel != wantLevel {
			t.Fatalf("LogLevel = %q, want %q", cfg.LogLevel, wantLevel)
		}

		wantBuffer := 1024
		if buffer != "" {
			wantBuffer, _ = strconv.Atoi(buffer)
		}
		if cfg.BusBuffer != wantBuffer {
			t.Fatalf("BusBuffer = %d, want %d", cfg.BusBuffer, wantBuffer)
		}

		for _, key := range durationEnvKeys {
			want, ok := durs[key]
			if !ok {
				want = durationDefaults[key]
			}
			if got := durationOf(cfg, key); got != want {
				t.Fatalf("%s = %v, want %v", key, got, want)
			}
		}
	})
}

func TestProperty_BrokerListSplitsOnComma(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		unsetAllConfigEnv()
		defer unsetAllConfigEnv()

		brokers := rapid.SliceOfN(genHostPort, 1, 5).Draw(t, "brokers")
		os.Setenv("KAFKA_BROKERS", strings.Join(brokers, ","))

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() returned error: %v", err)
		}
		if !reflect.DeepEqual(cfg.KafkaBrokers, brokers) {
			t.Fatalf("KafkaBrokers = %v, want %v", cfg.KafkaBrokers, brokers)
		}
	})
}

func TestProperty_InvalidPortReturnsError(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		unsetAllConfigEnv()
		defer unsetAllConfigEnv()

		port := rapid.OneOf(
			rapid.StringMatching(`[g-z]{1,10}`),
			rapid.Map(rapid.IntRange(65536, 1<<20), strconv.Itoa),
			rapid.Map(rapid.IntRange(-1000, 0), strconv.Itoa),
			rapid.Just("12.5"),
		).Draw(t, "port")
		os.Setenv("PORT", port)

		if _, err := Load(); err == nil {
			t.Fatalf("Load() should return error for PORT=%q", port)
		}
	})
}

func TestProperty_InvalidLogLevelReturnsError(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		unsetAllConfigEnv()
		defer unsetAllConfigEnv()

		level := rapid.StringMatching(`[a-z]{1,20}`).Filter(func(s string) bool {
			for _, v := range validLogLevels {
				if s == v {
					return false
				}
			}
			return true
		}).Draw(t, "level")
		os.Setenv("LOG_LEVEL", level)

		if _, err := Load(); err == nil {
			t.Fatalf("Load() should return error for LOG_LEVEL=%q", level)
		}
	})
}

func TestProperty_InvalidDurationReturnsError(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		unsetAllConfigEnv()
		defer unsetAllConfigEnv()

		key := rapid.SampledFrom(durationEnvKeys).Draw(t, "key")
		val := rapid.OneOf(
			rapid.StringMatching(`[a-zA-Z]{2,10}`),
			rapid.Map(genDuration, func(d time.Duration) string { return (-d).String() }),
			rapid.Just("5x"),
		).Filter(func(s string) bool {
			d, err := time.ParseDuration(s)
			return err != nil || d <= 0
		}).Draw(t, "value")
		os.Setenv(key, val)

		if _, err := Load(); err == nil {
			t.Fatalf("Load() should return error for %s=%q", key, val)
		}
	})
}
