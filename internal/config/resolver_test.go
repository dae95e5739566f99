package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFindPath_Explicit(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "custom.yaml")
	if err := os.WriteFile(path, []byte("version: \"1\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := FindPath(path)
	if err != nil || got != path {
		t.Fatalf("FindPath = %q, %v", got, err)
	}

	if _, err := FindPath(path + ".missing"); err == nil {
		t.Fatal("missing explicit path should fail")
	}
}

func TestFindPath_XDG(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	t.Setenv("HOME", t.TempDir())

	want := filepath.Join(xdg, "cronrun", FileName)
	if err := os.MkdirAll(filepath.Dir(want), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(want, []byte("version: \"1\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := FindPath("")
	if err != nil || got != want {
		t.Fatalf("FindPath = %q, %v; want %q", got, err, want)
	}
}

func TestFindPath_NotFound(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	if _, err := FindPath(""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()
	cfg, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatal(err)
	}
	specs := Resolve(cfg)
	if len(specs) != 2 {
		t.Fatalf("specs = %d", len(specs))
	}
	if specs[0].Type != "lock_cleanup" || specs[0].Name != "" {
		t.Errorf("specs[0] = %+v", specs[0])
	}
	if specs[1].Name != "backup" || specs[1].Metadata["team"] != "ops" {
		t.Errorf("specs[1] = %+v", specs[1])
	}
	var c struct {
		Command []string `yaml:"command"`
	}
	if err := specs[1].Decode(&c); err != nil || len(c.Command) != 4 {
		t.Errorf("decoded config = %+v, %v", c, err)
	}
}
