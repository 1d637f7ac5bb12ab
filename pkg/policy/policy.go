package policy

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
	"github.com/shirou/gopsutil/v3/process"
)

// Environment variables carrying colon-separated glob pattern lists,
// evaluated against the current process's own executable identity.
const (
	EnvAllowlist = "NVHIDE_ALLOWLIST"
	EnvDenylist  = "NVHIDE_DENYLIST"
)

// Rule file basenames under the per-user config directory.
const (
	AllowlistFile = "allowlist"
	DenylistFile  = "denylist"
)

// Verdict is the per-process activation decision plus the evidence used to
// reach it. Computed once per process; immutable afterwards.
type Verdict struct {
	Active bool

	Exe        string
	HasAllow   bool
	AllowMatch bool
	DenyMatch  bool
}

// Evaluate decides whether hiding is active for the current process.
//
// An unknown executable identity fails open: with no identity to restrict
// against, the verdict stays active.
func Evaluate() *Verdict {
	exe, ok := selfExe()
	if !ok {
		return &Verdict{Active: true}
	}
	return evaluateExe(exe)
}

// EvaluateExe computes the verdict a process with the given executable
// path would receive under the current rules. Used by the launcher's
// status reporting.
func EvaluateExe(exe string) *Verdict {
	return evaluateExe(exe)
}

func evaluateExe(exe string) *Verdict {
	base := filepath.Base(exe)

	envAllow := os.Getenv(EnvAllowlist)
	envDeny := os.Getenv(EnvDenylist)

	fileAllow := readRuleFile(rulePath(AllowlistFile))
	fileDeny := readRuleFile(rulePath(DenylistFile))

	v := &Verdict{
		Active:   true,
		Exe:      exe,
		HasAllow: envAllow != "" || len(fileAllow) > 0,
	}
	v.AllowMatch = anyMatch(splitEnvList(envAllow), exe, base) ||
		anyMatch(fileAllow, exe, base)
	v.DenyMatch = anyMatch(splitEnvList(envDeny), exe, base) ||
		anyMatch(fileDeny, exe, base)

	// A non-empty allowlist restricts activation to matching processes.
	if v.HasAllow && !v.AllowMatch {
		v.Active = false
	}
	// Denylist always wins.
	if v.DenyMatch {
		v.Active = false
	}
	return v
}

// selfExe resolves the current process's executable path.
func selfExe() (string, bool) {
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if exe, err := proc.Exe(); err == nil && exe != "" {
			return exe, true
		}
	}
	if exe, err := os.Executable(); err == nil && exe != "" {
		return exe, true
	}
	return "", false
}

func anyMatch(patterns []string, exeFull, exeBase string) bool {
	for _, pat := range patterns {
		if matchPattern(pat, exeFull, exeBase) {
			return true
		}
	}
	return false
}

// matchPattern matches one pattern against the full executable path when
// the pattern contains a path separator, otherwise against the basename.
// Shell-glob semantics, case-sensitive, and '*' deliberately crosses '/'.
func matchPattern(pat, exeFull, exeBase string) bool {
	if pat == "" {
		return false
	}
	g, err := glob.Compile(pat)
	if err != nil {
		return false
	}
	if strings.ContainsRune(pat, '/') {
		return g.Match(exeFull)
	}
	return g.Match(exeBase)
}
