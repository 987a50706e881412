package pluginmgr

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config holds the raw KEY=VALUE settings after env overrides.
type Config struct {
	Values map[string]string
}

// Settings is the typed view of a Config.
type Settings struct {
	Layout   Layout
	Debug    bool
	Color    string // "auto", "0" or "1"
	Progress string // "auto", "0" or "1"
	MaxDepth int
	Jobs     int
	Publish  bool
	R2       R2Settings
}

// R2Settings configures publishing to an S3-compatible bucket.
type R2Settings struct {
	AccountID string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	Endpoint  string
}

// configFilePath returns PLUGINMGR_CONFIG, or pluginmgr.conf in the working root.
func configFilePath() string {
	if p := os.Getenv("PLUGINMGR_CONFIG"); p != "" {
		return p
	}
	root := os.Getenv("PLUGINMGR_ROOT")
	if root == "" {
		root = "."
	}
	return filepath.Join(root, configFileName)
}

// loadConfig reads a KEY=VALUE file. A missing file is not an error.
func loadConfig(path string) (*Config, error) {
	cfg := &Config{Values: make(map[string]string)}

	file, err := os.Open(path)
	if err == nil {
		defer file.Close()
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}
			key := strings.TrimSpace(parts[0])
			val := strings.TrimSpace(parts[1])
			val = strings.Trim(val, `"'`)
			cfg.Values[key] = val
		}
		if err := scanner.Err(); err != nil {
			return cfg, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("failed to open %s: %w", path, err)
	}

	mergeEnvOverrides(cfg)
	return cfg, nil
}

// Merge PLUGINMGR_* and R2_* env overrides
func mergeEnvOverrides(cfg *Config) {
	for _, env := range os.Environ() {
		if strings.HasPrefix(env, "PLUGINMGR_") || strings.HasPrefix(env, "R2_") {
			parts := strings.SplitN(env, "=", 2)
			if len(parts) == 2 {
				cfg.Values[parts[0]] = parts[1]
			}
		}
	}
}

// initConfig validates cfg and applies defaults.
func initConfig(cfg *Config) (Settings, error) {
	s := Settings{
		Color:    "auto",
		Progress: "auto",
		MaxDepth: defaultMaxDepth,
		Jobs:     1,
	}

	root := cfg.Values["PLUGINMGR_ROOT"]
	if root == "" {
		root = "."
	}
	s.Layout = NewLayout(root)
	s.Debug = cfg.Values["PLUGINMGR_DEBUG"] == "1"

	if v := cfg.Values["PLUGINMGR_COLOR"]; v != "" {
		if v != "auto" && v != "0" && v != "1" {
			return s, fmt.Errorf("PLUGINMGR_COLOR must be auto, 0 or 1, got %q", v)
		}
		s.Color = v
	}
	if v := cfg.Values["PLUGINMGR_PROGRESS"]; v != "" {
		if v != "auto" && v != "0" && v != "1" {
			return s, fmt.Errorf("PLUGINMGR_PROGRESS must be auto, 0 or 1, got %q", v)
		}
		s.Progress = v
	}
	if v := cfg.Values["PLUGINMGR_MAX_DEPTH"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return s, fmt.Errorf("PLUGINMGR_MAX_DEPTH must be a positive integer, got %q", v)
		}
		s.MaxDepth = n
	}
	if v := cfg.Values["PLUGINMGR_JOBS"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return s, fmt.Errorf("PLUGINMGR_JOBS must be a positive integer, got %q", v)
		}
		s.Jobs = n
	}

	s.Publish = cfg.Values["PLUGINMGR_PUBLISH"] == "1"
	s.R2 = R2Settings{
		AccountID: cfg.Values["R2_ACCOUNT_ID"],
		AccessKey: cfg.Values["R2_ACCESS_KEY_ID"],
		SecretKey: cfg.Values["R2_SECRET_ACCESS_KEY"],
		Bucket:    cfg.Values["R2_BUCKET_NAME"],
		Prefix:    cfg.Values["R2_PREFIX"],
		Endpoint:  strings.TrimRight(cfg.Values["PLUGINMGR_PUBLISH_ENDPOINT"], "/"),
	}
	if s.Publish {
		debugf("=> Publishing packaged archives to bucket %s\n", s.R2.Bucket)
	}
	return s, nil
}
