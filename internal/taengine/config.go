package taengine

import (
	"log"
	"os"
	"strconv"
	"strings"

	"quantedge-ta/internal/engine"
)

// defaultSpecs is used when INDICATOR_SPECS is empty.
const defaultSpecs = "SMA:9,SMA:20,SMA:50,EMA:9,EMA:21,RSI:14,BB:20"

// Config holds all env-parsed configuration for the indicator engine service.
type Config struct {
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	ConsumerGroup string
	ConsumerName  string

	Symbols   []string
	Intervals []string
	Specs     []engine.Spec

	SnapshotIntervalS int
	SnapshotKey       string
	HTTPAddr          string
	PELIntervalS      int
	PELMinIdleMs      int64

	CBMaxFailures   int
	CBResetTimeoutS int
}

// LoadConfig reads all environment variables and returns a Config.
func LoadConfig() Config {
	redisAddr := getEnv("REDIS_ADDR", "localhost:6379")
	redisPassword := getEnv("REDIS_PASSWORD", "")
	sqlitePath := getEnv("SQLITE_PATH", "data/taengine.db")
	consumerGroup := getEnv("CONSUMER_GROUP", "taengine")
	consumerName := getEnv("CONSUMER_NAME", "worker-1")
	symbolsStr := getEnv("SYMBOLS", "")
	intervalsStr := getEnv("INTERVALS", "1m")
	snapshotIntervalStr := getEnv("SNAPSHOT_INTERVAL_SEC", "30")
	snapshotKey := getEnv("SNAPSHOT_KEY", "ta:snapshot:engine")
	httpAddr := getEnv("TAENGINE_HTTP_ADDR", ":9095")
	pelIntervalStr := getEnv("PEL_RECLAIM_INTERVAL_SEC", "30")
	pelMinIdleStr := getEnv("PEL_MIN_IDLE_MS", "60000")
	cbFailuresStr := getEnv("CB_MAX_FAILURES", "5")
	cbResetStr := getEnv("CB_RESET_TIMEOUT_SEC", "10")

	pelInterval, _ := strconv.Atoi(pelIntervalStr)
	if pelInterval <= 0 {
		pelInterval = 30
	}
	pelMinIdle, _ := strconv.ParseInt(pelMinIdleStr, 10, 64)
	if pelMinIdle <= 0 {
		pelMinIdle = 60000
	}

	snapshotInterval, _ := strconv.Atoi(snapshotIntervalStr)
	if snapshotInterval <= 0 {
		snapshotInterval = 30
	}

	cbFailures, _ := strconv.Atoi(cbFailuresStr)
	if cbFailures <= 0 {
		cbFailures = 5
	}
	cbReset, _ := strconv.Atoi(cbResetStr)
	if cbReset <= 0 {
		cbReset = 10
	}

	return Config{
		RedisAddr:         redisAddr,
		RedisPassword:     redisPassword,
		SQLitePath:        sqlitePath,
		ConsumerGroup:     consumerGroup,
		ConsumerName:      consumerName,
		Symbols:           splitList(symbolsStr),
		Intervals:         splitList(intervalsStr),
		Specs:             LoadSpecs(getEnv("INDICATOR_SPECS", "")),
		SnapshotIntervalS: snapshotInterval,
		SnapshotKey:       snapshotKey,
		HTTPAddr:          httpAddr,
		PELIntervalS:      pelInterval,
		PELMinIdleMs:      pelMinIdle,
		CBMaxFailures:     cbFailures,
		CBResetTimeoutS:   cbReset,
	}
}

// LoadSpecs parses the INDICATOR_SPECS value, falling back to defaults when
// the input is empty or entirely invalid. The EMA_ENFORCE_CONVERGENCE toggle
// applies the convergence gate to all EMA specs.
func LoadSpecs(raw string) []engine.Spec {
	if raw == "" {
		raw = defaultSpecs
	}
	specs, err := engine.ParseSpecs(raw)
	if err == nil {
		err = engine.ValidateSpecs(specs)
	}
	if err != nil {
		log.Printf("[taengine] WARNING: invalid INDICATOR_SPECS (%v), using defaults", err)
		specs, _ = engine.ParseSpecs(defaultSpecs)
	}

	if getEnv("EMA_ENFORCE_CONVERGENCE", "") == "true" {
		for i := range specs {
			if specs[i].Kind == engine.KindEMA {
				specs[i].EnforceConvergence = true
			}
		}
	}

	log.Printf("[taengine] loaded %d indicator specs", len(specs))
	return specs
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
