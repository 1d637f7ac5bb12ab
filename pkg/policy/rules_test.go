package policy

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSplitEnvList(t *testing.T) {
	got := splitEnvList(" code : firefox ::vlc")
	want := []string{"code", "firefox", "vlc"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSplitEnvListEmpty(t *testing.T) {
	if got := splitEnvList(""); got != nil {
		t.Errorf("empty value should yield no patterns, got %v", got)
	}
	if got := splitEnvList(":::"); got != nil {
		t.Errorf("separator-only value should yield no patterns, got %v", got)
	}
}

func TestReadRuleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "allowlist")
	content := "# comment\n\n  firefox\t\ncode\n   \n# trailing\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	got := readRuleFile(path)
	want := []string{"firefox", "code"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestReadRuleFileMissing(t *testing.T) {
	if got := readRuleFile(filepath.Join(t.TempDir(), "nope")); got != nil {
		t.Errorf("missing file should yield no patterns, got %v", got)
	}
}

func TestRulePathPrefersXDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	t.Setenv("HOME", "/home/u")
	if got := rulePath("allowlist"); got != "/xdg/nvhide/allowlist" {
		t.Errorf("got %q", got)
	}
}

func TestRulePathFallsBackToHome(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("HOME", "/home/u")
	if got := rulePath("denylist"); got != "/home/u/.config/nvhide/denylist" {
		t.Errorf("got %q", got)
	}
}

func TestRulePathWithoutHomeCannotExist(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("HOME", "")
	got := rulePath("allowlist")
	if _, err := os.Stat(got); err == nil {
		t.Errorf("path %q should not exist", got)
	}
}
