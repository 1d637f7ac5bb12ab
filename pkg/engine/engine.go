package engine

import (
	"os"
	"runtime"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nvhide/nvhide/pkg/discover"
	"github.com/nvhide/nvhide/pkg/policy"
)

// EnvDebug enables single-line debug records on stderr.
const EnvDebug = "NVHIDE_DEBUG"

// State is the immutable record published when initialization completes.
// After publication every field is read-only, so the hot path needs no
// synchronization beyond the guard's ready load.
type State struct {
	Active  bool
	Debug   bool
	Devices *discover.Devices
	Verdict *policy.Verdict
}

// Guard coordinates exactly-once initialization under concurrent first use.
//
// A compare-and-swap on the claim flag elects one caller to run initFn;
// everyone else spins, yielding the processor, until the ready flag is
// observably set. The ready store happens after the state write, and Go
// atomics give the release/acquire pairing that makes all initialization
// writes visible to any caller that observes ready.
type Guard struct {
	claimed atomic.Bool
	ready   atomic.Bool
	state   *State
	initFn  func() *State
}

// NewGuard returns a Guard that runs initFn exactly once.
func NewGuard(initFn func() *State) *Guard {
	return &Guard{initFn: initFn}
}

// Ensure returns the initialized state, running initialization on first use.
func (g *Guard) Ensure() *State {
	if g.ready.Load() {
		return g.state
	}
	if !g.claimed.CompareAndSwap(false, true) {
		for !g.ready.Load() {
			runtime.Gosched()
		}
		return g.state
	}
	g.state = g.initFn()
	g.ready.Store(true)
	return g.state
}

var std = NewGuard(initState)

// EnsureReady is the process-wide accessor used by every interposed entry
// point. Cheap after the first call: one atomic load.
func EnsureReady() *State {
	return std.Ensure()
}

// initState runs the policy decision and, only when the verdict is active,
// device discovery. An inactive process does no sysfs scanning at all.
func initState() *State {
	st := &State{Debug: debugEnabled()}
	log := debugLogger(st.Debug)

	st.Verdict = policy.Evaluate()
	st.Active = st.Verdict.Active
	log.Debug("policy",
		zap.String("exe", st.Verdict.Exe),
		zap.Bool("active", st.Active),
		zap.Bool("has_allow", st.Verdict.HasAllow),
		zap.Bool("allow_match", st.Verdict.AllowMatch),
		zap.Bool("deny_match", st.Verdict.DenyMatch),
	)

	if !st.Active {
		st.Devices = &discover.Devices{}
		log.Debug("init: inactive for this process; skipping discovery")
		return st
	}

	st.Devices = discover.NewScanner().Scan()
	log.Debug("init",
		zap.Strings("nodes", st.Devices.Nodes),
		zap.Strings("bdfs", st.Devices.BusAddrs),
	)
	return st
}

func debugEnabled() bool {
	v := os.Getenv(EnvDebug)
	return v != "" && v != "0"
}

// debugLogger writes single-line console records to stderr. Disabled debug
// yields a nop logger so the init path stays allocation-light.
func debugLogger(enabled bool) *zap.Logger {
	if !enabled {
		return zap.NewNop()
	}
	enc := zap.NewProductionEncoderConfig()
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(enc),
		zapcore.Lock(os.Stderr),
		zapcore.DebugLevel,
	)
	return zap.New(core).Named("nvhide")
}
