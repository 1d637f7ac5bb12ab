package policy

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// configSubdir is the per-user rule directory under the XDG config root.
const configSubdir = "nvhide"

// splitEnvList splits a colon-separated pattern list, trimming each entry
// and dropping empties.
func splitEnvList(val string) []string {
	if val == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ":") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// readRuleFile loads a line-oriented pattern file. Blank lines and lines
// starting with '#' are ignored; values are trimmed of surrounding
// whitespace. A missing or unreadable file yields no patterns.
func readRuleFile(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}

// RuleDir returns the per-user rule directory.
func RuleDir() string {
	return filepath.Dir(rulePath(AllowlistFile))
}

// rulePath resolves a rule file under $XDG_CONFIG_HOME/nvhide, falling back
// to ~/.config/nvhide. Without either variable the returned path cannot
// exist, which reads as an empty rule set.
func rulePath(leaf string) string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return xdg + "/" + configSubdir + "/" + leaf
	}
	if home := os.Getenv("HOME"); home != "" {
		return home + "/.config/" + configSubdir + "/" + leaf
	}
	return "/nonexistent/" + leaf
}
