package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestProfilePaths(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv(ConfigEnv, "")

	if got := ProfilePath(""); got != DefaultConfigName {
		t.Fatalf("ProfilePath(\"\") = %q", got)
	}
	want := filepath.Join(home, ".unibox", "profiles", "work.yaml")
	if got := ProfilePath("work"); got != want {
		t.Fatalf("ProfilePath(work) = %q, want %q", got, want)
	}
	if got := DefaultPath(); got != DefaultConfigName {
		t.Fatalf("DefaultPath() without profile = %q", got)
	}

	if err := WriteActiveProfile("work"); err != nil {
		t.Fatalf("WriteActiveProfile() error = %v", err)
	}
	if got := DefaultPath(); got != want {
		t.Fatalf("DefaultPath() = %q, want %q", got, want)
	}

	t.Setenv(ConfigEnv, "/etc/unibox.yaml")
	if got := DefaultPath(); got != "/etc/unibox.yaml" {
		t.Fatalf("DefaultPath() with env = %q", got)
	}

	if err := WriteActiveProfile(""); err != nil {
		t.Fatalf("WriteActiveProfile(\"\") error = %v", err)
	}
	if name, _ := ReadActiveProfile(); name != "" {
		t.Fatalf("ReadActiveProfile() after clear = %q", name)
	}
}

func TestListProfiles(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	names, err := ListProfiles()
	if err != nil || len(names) != 0 {
		t.Fatalf("ListProfiles() = %v, %v", names, err)
	}

	dir := ProfileDir()
	if err := os.MkdirAll(filepath.Join(dir, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"staging.yaml", "dev.yaml", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("server: {}\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	names, err = ListProfiles()
	if err != nil {
		t.Fatalf("ListProfiles() error = %v", err)
	}
	if !reflect.DeepEqual(names, []string{"dev", "staging"}) {
		t.Fatalf("ListProfiles() = %v", names)
	}
}
