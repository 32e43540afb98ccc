package config

import (
    "fmt"
    "os"
    "regexp"
)

var envVarPattern = regexp.MustCompile(`\${([^}]+)}`)

// ExpandEnvStrict substitutes ${NAME} references and fails on the first
// variable that is not set. An empty but set variable is accepted.
func ExpandEnvStrict(s string) (string, error) {
    for _, m := range envVarPattern.FindAllStringSubmatch(s, -1) {
        if _, ok := os.LookupEnv(m[1]); !ok {
            return "", fmt.Errorf("config: environment variable %s is not set", m[1])
        }
    }
    return os.ExpandEnv(s), nil
}

// Environment variables consulted after the file is parsed.
const (
    EnvStoreURI = "STORE_URI"
    EnvMongoURI = "MONGO_URI"
    EnvBackend  = "REPLPROBE_BACKEND"
    EnvConfig   = "REPLPROBE_CONFIG"
    EnvLogLevel = "REPLPROBE_LOG_LEVEL"
)

// applyEnv lets the process environment win over file values.
func (c *Config) applyEnv() {
    if v := os.Getenv(EnvMongoURI); v != "" { c.Store.URI = v }
    if v := os.Getenv(EnvStoreURI); v != "" { c.Store.URI = v }
    if v := os.Getenv(EnvBackend); v != "" { c.Backend = v }
    if v := os.Getenv(EnvLogLevel); v != "" { c.Log.Level = v }
}
