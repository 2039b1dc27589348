// Package config reads service settings from the environment and provides
// shared test database utilities.
//
// Every getter falls back to its default when the variable is unset or does
// not parse, so a mistyped deployment value degrades to the documented
// default instead of failing startup.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// getEnv reads key and parses it with parse, returning defaultValue when the
// variable is unset, empty, or unparsable.
func getEnv[T any](key string, defaultValue T, parse func(string) (T, error)) T {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}

	value, err := parse(raw)
	if err != nil {
		return defaultValue
	}

	return value
}

// GetEnvStr returns the value of key, or defaultValue when unset or empty.
//
// Example:
//
//	s := GetEnvStr("ORDERCORE_TOPIC_ORDER_EVENTS", "order-events")
func GetEnvStr(key, defaultValue string) string {
	return getEnv(key, defaultValue, func(raw string) (string, error) {
		return raw, nil
	})
}

// GetEnvInt returns the value of key parsed as an int, or defaultValue.
//
// Example:
//
//	n := GetEnvInt("ORDERCORE_WORKER_COUNT", 4)
func GetEnvInt(key string, defaultValue int) int {
	return getEnv(key, defaultValue, strconv.Atoi)
}

// GetEnvInt64 returns the value of key parsed as an int64, or defaultValue.
//
// Example:
//
//	qty := GetEnvInt64("ORDERCORE_VALIDATION_MAX_ORDER_QTY", 1_000_000)
func GetEnvInt64(key string, defaultValue int64) int64 {
	return getEnv(key, defaultValue, func(raw string) (int64, error) {
		return strconv.ParseInt(raw, 10, 64)
	})
}

// GetEnvBool returns the value of key parsed as a bool, or defaultValue.
// Accepted forms, case-insensitive: "true", "1", "yes", "false", "0", "no".
func GetEnvBool(key string, defaultValue bool) bool {
	return getEnv(key, defaultValue, parseBool)
}

// GetEnvDuration returns the value of key parsed with time.ParseDuration,
// or defaultValue.
//
// Example:
//
//	d := GetEnvDuration("ORDERCORE_DEADLINE_DEFAULT", 5*time.Second)
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	return getEnv(key, defaultValue, time.ParseDuration)
}

// GetEnvLogLevel returns the value of key parsed as a slog level, or
// defaultValue. Recognized names: "debug", "info", "warn", "warning",
// "error".
func GetEnvLogLevel(key string, defaultValue slog.Level) slog.Level {
	return getEnv(key, defaultValue, parseLogLevel)
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no":
		return false, nil
	default:
		return false, fmt.Errorf("unrecognized boolean %q", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unrecognized log level %q", raw)
	}
}

// ParseCommaSeparatedList splits input on commas, trims whitespace, and
// drops empty entries. An empty input yields an empty slice.
func ParseCommaSeparatedList(input string) []string {
	if input == "" {
		return []string{}
	}

	parts := strings.Split(input, ",")
	result := make([]string, 0, len(parts))

	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
