// FILE: env.go
// Package main – ambient configuration loading, built on
// github.com/joho/godotenv for the "read .env, don't clobber
// already-set vars" contract. Small getEnv* helpers sit alongside it
// since godotenv only loads process env, it doesn't parse typed
// defaults.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// loadBotEnv loads an explicit configPath if given, otherwise falls
// back to .env (and ../.env), into the process environment via
// godotenv, ignoring a missing file entirely (production deployments
// set real env vars and carry no .env at all).
func loadBotEnv(configPath string) {
	paths := []string{".env", "../.env"}
	if configPath != "" {
		paths = []string{configPath}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if !os.IsNotExist(err) {
				log.WithField("path", path).WithError(err).Warn("env: could not parse .env file")
			}
			continue
		}
		log.WithField("path", path).Info("env: loaded .env")
		break
	}
}

// RequiredEnv lists the keys live trading refuses to start without.
// Dry-run/replay modes do not require exchange credentials.
var RequiredEnv = []string{"EXCHANGE_API_KEY", "EXCHANGE_API_SECRET"}

// validateRequiredEnv enforces that live mode has exchange credentials
// (EXCHANGE_API_KEY, EXCHANGE_API_SECRET); a missing key is a
// configuration error (exit code 1).
func validateRequiredEnv(live bool) error {
	if !live {
		return nil
	}
	var missing []string
	for _, k := range RequiredEnv {
		if strings.TrimSpace(os.Getenv(k)) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getEnvBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "1", "true", "y", "yes":
		return true
	case "0", "false", "n", "no":
		return false
	default:
		return def
	}
}

func getEnvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}
