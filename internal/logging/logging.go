// Package logging wires go.uber.org/zap into Clusterlib's subsystems. A
// host application that never calls SetLogger pays nothing: every
// subsystem gets a no-op *zap.SugaredLogger until one is installed.
package logging

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu   sync.RWMutex
	base *zap.Logger = zap.NewNop()
)

// SetLogger installs the *zap.Logger subsystem loggers derive from. Safe
// to call before or after subsystems have already called New; loggers
// created later reflect the new base, loggers already handed out do not,
// since each takes its logger at construction time rather than looking
// one up per call.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	if l == nil {
		l = zap.NewNop()
	}
	base = l
}

// New returns a *zap.SugaredLogger scoped to the named subsystem, e.g.
// "registry", "notifyable", "rpc".
func New(subsystem string) *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return base.Named(subsystem).Sugar()
}
