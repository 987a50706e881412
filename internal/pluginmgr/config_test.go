package pluginmgr

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), configFileName)
	conf := `# packaging settings
PLUGINMGR_JOBS=4
PLUGINMGR_COLOR = "0"
R2_BUCKET_NAME='plugins'
not a setting
`
	if err := os.WriteFile(path, []byte(conf), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PLUGINMGR_JOBS", "2")

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	for key, want := range map[string]string{
		"PLUGINMGR_JOBS":  "2",
		"PLUGINMGR_COLOR": "0",
		"R2_BUCKET_NAME":  "plugins",
	} {
		if got := cfg.Values[key]; got != want {
			t.Errorf("%s = %q, want %q", key, got, want)
		}
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "absent.conf"))
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Values == nil {
		t.Error("Values is nil")
	}
}

func TestInitConfigDefaults(t *testing.T) {
	s, err := initConfig(&Config{Values: map[string]string{"PLUGINMGR_ROOT": "/srv/backbone"}})
	if err != nil {
		t.Fatalf("initConfig: %v", err)
	}
	if s.MaxDepth != defaultMaxDepth || s.Jobs != 1 || s.Color != "auto" || s.Progress != "auto" || s.Publish {
		t.Errorf("defaults = %+v", s)
	}
	if want := filepath.Join("/srv/backbone", "bin", registryFileName); s.Layout.RegistryPath != want {
		t.Errorf("RegistryPath = %s, want %s", s.Layout.RegistryPath, want)
	}
}

func TestInitConfigRejectsBadValues(t *testing.T) {
	tests := []struct {
		key, val string
	}{
		{"PLUGINMGR_COLOR", "always"},
		{"PLUGINMGR_PROGRESS", "yes"},
		{"PLUGINMGR_MAX_DEPTH", "0"},
		{"PLUGINMGR_MAX_DEPTH", "deep"},
		{"PLUGINMGR_JOBS", "-1"},
	}
	for _, tt := range tests {
		if _, err := initConfig(&Config{Values: map[string]string{tt.key: tt.val}}); err == nil {
			t.Errorf("initConfig(%s=%s) succeeded", tt.key, tt.val)
		}
	}
}

func TestInitConfigPublish(t *testing.T) {
	s, err := initConfig(&Config{Values: map[string]string{
		"PLUGINMGR_PUBLISH":          "1",
		"PLUGINMGR_PUBLISH_ENDPOINT": "http://localhost:9000/",
		"R2_ACCESS_KEY_ID":           "key",
		"R2_SECRET_ACCESS_KEY":       "secret",
		"R2_BUCKET_NAME":             "plugins",
		"R2_PREFIX":                  "nightly/",
	}})
	if err != nil {
		t.Fatalf("initConfig: %v", err)
	}
	want := R2Settings{AccessKey: "key", SecretKey: "secret", Bucket: "plugins", Prefix: "nightly/", Endpoint: "http://localhost:9000"}
	if !s.Publish || s.R2 != want {
		t.Errorf("publish settings = %v %+v, want %+v", s.Publish, s.R2, want)
	}
}
