// Package inject locates the preload shim and builds the environment that
// loads it into a target process, and only that process.
package inject

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

// EnvLibrary overrides the on-disk location of the preload shim.
const EnvLibrary = "NVHIDE_LIBRARY"

// LibraryName is the shim's filename.
const LibraryName = "libnvhide.so"

// systemPaths are the fixed install locations tried last.
var systemPaths = []string{
	"/usr/lib/" + LibraryName,
	"/usr/local/lib/" + LibraryName,
	"/lib/" + LibraryName,
}

// Injector resolves the shim and prepares per-child injection.
type Injector struct {
	libraryPath string
	logger      *zap.Logger
}

// NewInjector creates an Injector. libraryPath, when non-empty, takes
// precedence over the environment override and the search paths.
func NewInjector(libraryPath string, logger *zap.Logger) *Injector {
	return &Injector{libraryPath: libraryPath, logger: logger}
}

// FindLibrary locates the shim: explicit path, then the NVHIDE_LIBRARY
// override, then next to this binary (and ../lib), then the fixed system
// locations.
func (inj *Injector) FindLibrary() (string, error) {
	if inj.libraryPath != "" {
		if fileExists(inj.libraryPath) {
			return inj.libraryPath, nil
		}
		return "", fmt.Errorf("library %s not found", inj.libraryPath)
	}

	if env := os.Getenv(EnvLibrary); env != "" && fileExists(env) {
		return env, nil
	}

	if self, err := os.Executable(); err == nil {
		dir := filepath.Dir(self)
		for _, p := range []string{
			filepath.Join(dir, LibraryName),
			filepath.Join(dir, "..", "lib", LibraryName),
		} {
			if fileExists(p) {
				return p, nil
			}
		}
	}

	for _, p := range systemPaths {
		if fileExists(p) {
			return p, nil
		}
	}

	return "", fmt.Errorf("%s not found; set %s=/path/to/%s", LibraryName, EnvLibrary, LibraryName)
}

// PreloadValue composes an LD_PRELOAD value that loads libPath. An existing
// value is preserved and space-appended to; an already-present reference is
// not duplicated.
func PreloadValue(existing, libPath string) string {
	if existing == "" {
		return libPath
	}
	if strings.Contains(existing, libPath) {
		return existing
	}
	return existing + " " + libPath
}

// InjectEnv returns the environment entries for a child process. The
// launcher's own environment is never mutated.
func (inj *Injector) InjectEnv() ([]string, error) {
	libPath, err := inj.FindLibrary()
	if err != nil {
		return nil, err
	}
	return []string{
		"LD_PRELOAD=" + PreloadValue(os.Getenv("LD_PRELOAD"), libPath),
	}, nil
}

// InjectCommand wraps a command so the shim loads into it.
func (inj *Injector) InjectCommand(name string, args ...string) (*exec.Cmd, error) {
	env, err := inj.InjectEnv()
	if err != nil {
		return nil, err
	}
	cmd := exec.Command(name, args...)
	cmd.Env = append(environWithout("LD_PRELOAD"), env...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd, nil
}

// ExecEnv returns a full environment for exec(2), with LD_PRELOAD composed
// for the child.
func (inj *Injector) ExecEnv() ([]string, error) {
	env, err := inj.InjectEnv()
	if err != nil {
		return nil, err
	}
	return append(environWithout("LD_PRELOAD"), env...), nil
}

// AttachProcess injects the shim into an already-running process via
// GDB-based dlopen injection. Best effort; requires gdb and ptrace
// permission.
func (inj *Injector) AttachProcess(pid int) error {
	libPath, err := inj.FindLibrary()
	if err != nil {
		return err
	}

	gdbPath, err := exec.LookPath("gdb")
	if err != nil {
		return fmt.Errorf("gdb not found; install gdb for attach: %w", err)
	}

	gdbCommands := fmt.Sprintf(`set pagination off
set confirm off
attach %d
call (void*)dlopen("%s", 2)
detach
quit
`, pid, libPath)

	cmd := exec.Command(gdbPath, "-batch", "-nx")
	cmd.Stdin = strings.NewReader(gdbCommands)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("gdb attach failed (pid %d): %w\noutput: %s", pid, err, string(output))
	}

	inj.logger.Info("attached to process",
		zap.Int("pid", pid),
		zap.String("library", libPath),
	)
	return nil
}

// ActiveProcesses returns PIDs of processes with the shim loaded.
func (inj *Injector) ActiveProcesses() ([]int32, error) {
	libPath, err := inj.FindLibrary()
	if err != nil {
		return nil, err
	}

	procs, err := process.Processes()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	var pids []int32
	for _, p := range procs {
		maps, err := os.ReadFile(fmt.Sprintf("/proc/%d/maps", p.Pid))
		if err != nil {
			continue
		}
		if strings.Contains(string(maps), libPath) {
			pids = append(pids, p.Pid)
		}
	}
	return pids, nil
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

// environWithout copies the current environment minus one variable.
func environWithout(key string) []string {
	var out []string
	prefix := key + "="
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, prefix) {
			out = append(out, kv)
		}
	}
	return out
}
