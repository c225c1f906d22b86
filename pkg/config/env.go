// Package config holds the environment helpers shared by the service entry
// points.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultSecretsFile is read when SECRETS_FILE is not set.
const DefaultSecretsFile = "arduino_secrets.env"

// LoadSecrets loads KEY=VALUE pairs from the secrets file into the process
// environment. Variables already set in the environment win. A missing file
// is not an error; the returned path is empty in that case.
func LoadSecrets() (string, error) {
	path := EnvStr("SECRETS_FILE", DefaultSecretsFile)
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("config: load %s: %w", path, err)
	}
	return path, nil
}

func EnvStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func EnvInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func EnvBool(key string, def bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// EnvDuration accepts Go duration strings ("1500ms", "5s") or a bare integer
// read as milliseconds.
func EnvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Millisecond
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return def
}

// EnvList splits a comma separated variable, dropping empty items.
func EnvList(key, def string) []string {
	parts := strings.Split(EnvStr(key, def), ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
