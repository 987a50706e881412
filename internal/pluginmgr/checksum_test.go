package pluginmgr

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDigestOfEmpty(t *testing.T) {
	// The first 16 bytes of the 256-bit BLAKE3 hash of the empty input.
	want := "af1349b9f5f9a1a6a0404dea36dcc949"
	if got := DigestOf(nil).String(); got != want {
		t.Errorf("DigestOf(nil) = %s, want %s", got, want)
	}
}

func TestDigestStringFixedWidth(t *testing.T) {
	var d Digest
	d[DigestSize-1] = 0x0a
	got := d.String()
	if len(got) != 2*DigestSize {
		t.Fatalf("len(%q) = %d, want %d", got, len(got), 2*DigestSize)
	}
	if want := strings.Repeat("0", 2*DigestSize-2) + "0a"; got != want {
		t.Errorf("String() = %s, want %s", got, want)
	}
}

func TestDigestFileMatchesDigestOf(t *testing.T) {
	dir := t.TempDir()
	data := []byte(strings.Repeat("plugin-bytes ", 20000))
	path := filepath.Join(dir, "m.jar")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := DigestFile(path)
	if err != nil {
		t.Fatalf("DigestFile: %v", err)
	}
	if want := DigestOf(data); got != want {
		t.Errorf("DigestFile = %s, want %s", got, want)
	}

	data[0] = 'P'
	if got == DigestOf(data) {
		t.Error("digest did not change after a one-byte edit")
	}
}

func TestDigestFileMissing(t *testing.T) {
	if _, err := DigestFile(filepath.Join(t.TempDir(), "absent")); !os.IsNotExist(err) {
		t.Errorf("DigestFile(absent) error = %v, want not-exist", err)
	}
}
