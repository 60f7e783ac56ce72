//go:build !linux && !windows

package driver

import (
	"errors"

	"github.com/go-completio/completio/internal/poller"
	"github.com/go-completio/completio/op"
)

func newBackend(cfg Config) (backend, error) {
	return poller.New(cfg.entries())
}

// classifyBackendError recognizes the readiness-bridge backend's two
// sentinel errors: ErrCancelled for any op whose context was cancelled
// (either at its pre-syscall check or racing a Timeout's own wait), and
// ErrTimedOut for a Timeout op's natural elapse.
func classifyBackendError(opcode op.Opcode, err error) ErrorCode {
	switch {
	case errors.Is(err, poller.ErrCancelled):
		return CodeCancelled
	case errors.Is(err, poller.ErrTimedOut):
		if _, ok := opcode.(*op.Timeout); ok {
			return CodeTimedOut
		}
	}
	return ""
}
