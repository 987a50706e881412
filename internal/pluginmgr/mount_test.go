package pluginmgr

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func openTestMount(t *testing.T, entries map[string]string) (*ArchiveMount, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "core.jar")
	writeJar(t, path, entries)
	m, err := OpenMount(path)
	if err != nil {
		t.Fatalf("OpenMount: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m, path
}

func TestMountWriteAndFlush(t *testing.T) {
	m, path := openTestMount(t, map[string]string{
		"a.txt":   "alpha",
		"b/c.txt": "old",
	})

	if err := m.WriteFile("/b/c.txt", strings.NewReader("new"), FileMeta{}); err != nil {
		t.Fatalf("WriteFile overwrite: %v", err)
	}
	if err := m.WriteFile("/configs/x.json", strings.NewReader(`{"k":1}`), FileMeta{}); err != nil {
		t.Fatalf("WriteFile new: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	files, order := readJar(t, path)
	want := map[string]string{
		"a.txt":          "alpha",
		"b/c.txt":        "new",
		"configs/x.json": `{"k":1}`,
	}
	if diff := cmp.Diff(want, files); diff != "" {
		t.Errorf("archive content mismatch (-want +got):\n%s", diff)
	}
	wantOrder := []string{"a.txt", "b/c.txt", "b/", "configs/", "configs/x.json"}
	if diff := cmp.Diff(wantOrder, order); diff != "" {
		t.Errorf("entry order mismatch (-want +got):\n%s", diff)
	}

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(path), ".core.jar.*"))
	if err != nil {
		t.Fatal(err)
	}
	if len(leftovers) != 0 {
		t.Errorf("staging files left behind: %v", leftovers)
	}
}

func TestMountCloseWithoutWritesKeepsArchive(t *testing.T) {
	m, path := openTestMount(t, map[string]string{"a.txt": "alpha"})
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if m.FileCount() != 1 {
		t.Errorf("FileCount = %d, want 1", m.FileCount())
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(before, after) {
		t.Error("archive bytes changed without any write")
	}
}

func TestMountCreateDirectoriesIdempotent(t *testing.T) {
	m, path := openTestMount(t, map[string]string{"python_modules/": ""})
	for i := 0; i < 2; i++ {
		if err := m.CreateDirectories("/python_modules/pkg/sub"); err != nil {
			t.Fatalf("CreateDirectories #%d: %v", i, err)
		}
	}
	for _, dir := range []string{"/python_modules", "/python_modules/pkg", "/python_modules/pkg/sub"} {
		if !m.Exists(dir) {
			t.Errorf("Exists(%s) = false", dir)
		}
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_, order := readJar(t, path)
	want := []string{"python_modules/", "python_modules/pkg/", "python_modules/pkg/sub/"}
	if diff := cmp.Diff(want, order); diff != "" {
		t.Errorf("entry order mismatch (-want +got):\n%s", diff)
	}
}

func TestMountOpenStagedContent(t *testing.T) {
	m, _ := openTestMount(t, map[string]string{"a.txt": "alpha"})
	if err := m.WriteFile("b.txt", strings.NewReader("beta"), FileMeta{}); err != nil {
		t.Fatal(err)
	}
	for name, want := range map[string]string{"/a.txt": "alpha", "/b.txt": "beta"} {
		rc, err := m.Open(name)
		if err != nil {
			t.Fatalf("Open(%s): %v", name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != want {
			t.Errorf("Open(%s) = %q, want %q", name, data, want)
		}
	}
	if _, err := m.Open("/missing"); err == nil {
		t.Error("Open(/missing) succeeded")
	}
}

func TestMountRejectsEscapingPaths(t *testing.T) {
	m, _ := openTestMount(t, map[string]string{"a.txt": "alpha"})
	for _, name := range []string{"../evil.txt", "/../evil.txt", "a/../../evil.txt"} {
		err := m.WriteFile(name, strings.NewReader("x"), FileMeta{})
		var werr *ArchiveWriteError
		if !errors.As(err, &werr) || !errors.Is(err, errEscapesRoot) {
			t.Errorf("WriteFile(%s) error = %v, want escape error", name, err)
		}
	}
}

func TestNormalizeEntryName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/", ""},
		{"/a/b", "a/b"},
		{"a//b", "a/b"},
		{"./a/./b/", "a/b"},
		{"a/x/../b", "a/b"},
		{"lib..d/x", "lib..d/x"},
	}
	for _, tt := range tests {
		got, err := normalizeEntryName(tt.in)
		if err != nil {
			t.Errorf("normalizeEntryName(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("normalizeEntryName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestReadOnlyMountRejectsWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.jar")
	writeJar(t, path, map[string]string{"lib/x.class": "x"})
	m, err := OpenReadOnly(path)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	err = m.WriteFile("/lib/y.class", strings.NewReader("y"), FileMeta{})
	if !errors.Is(err, errReadOnlyMount) {
		t.Errorf("WriteFile error = %v, want errReadOnlyMount", err)
	}
	if err := m.CreateDirectories("/lib2"); !errors.Is(err, errReadOnlyMount) {
		t.Errorf("CreateDirectories error = %v, want errReadOnlyMount", err)
	}
}

func TestOpenMountNotAnArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.jar")
	if err := os.WriteFile(path, []byte("not a zip"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := OpenMount(path)
	var rerr *ArchiveReadError
	if !errors.As(err, &rerr) || rerr.Archive != path {
		t.Errorf("OpenMount error = %v, want *ArchiveReadError for %s", err, path)
	}
}

func TestMountWalkYieldsImpliedDirectories(t *testing.T) {
	m, _ := openTestMount(t, map[string]string{
		"META-INF/MANIFEST.MF": "Manifest-Version: 1.0",
		"org/ohnlp/A.class":    "a",
		"org/ohnlp/B.class":    "b",
	})

	var got []string
	for e := range m.Walk("/") {
		kind := "d"
		if e.IsFile {
			kind = "f"
		}
		got = append(got, kind+" "+e.Path)
	}
	want := []string{
		"d /META-INF",
		"f /META-INF/MANIFEST.MF",
		"d /org",
		"d /org/ohnlp",
		"f /org/ohnlp/A.class",
		"f /org/ohnlp/B.class",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Walk(/) mismatch (-want +got):\n%s", diff)
	}

	var sub []string
	for e := range m.Walk("/org") {
		sub = append(sub, e.Path)
	}
	if diff := cmp.Diff([]string{"/org/ohnlp", "/org/ohnlp/A.class", "/org/ohnlp/B.class"}, sub); diff != "" {
		t.Errorf("Walk(/org) mismatch (-want +got):\n%s", diff)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk on fire") }

func TestMountFailedWriteKeepsEarlierWrites(t *testing.T) {
	m, path := openTestMount(t, map[string]string{"a.txt": "alpha"})
	if err := m.WriteFile("/ok.txt", strings.NewReader("ok"), FileMeta{}); err != nil {
		t.Fatal(err)
	}
	err := m.WriteFile("/bad.txt", failingReader{}, FileMeta{})
	var werr *ArchiveWriteError
	if !errors.As(err, &werr) || werr.Path != "/bad.txt" {
		t.Fatalf("WriteFile error = %v, want *ArchiveWriteError for /bad.txt", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	files, _ := readJar(t, path)
	if files["ok.txt"] != "ok" {
		t.Errorf("ok.txt = %q, want %q", files["ok.txt"], "ok")
	}
	if _, ok := files["bad.txt"]; ok {
		t.Error("failed write left a bad.txt entry")
	}
}
