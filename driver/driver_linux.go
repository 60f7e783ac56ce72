//go:build linux

package driver

import (
	"errors"
	"syscall"

	"github.com/go-completio/completio/internal/iouring"
	"github.com/go-completio/completio/internal/poller"
	"github.com/go-completio/completio/op"
)

func newBackend(cfg Config) (backend, error) {
	return iouring.New(cfg.entries())
}

// classifyBackendError recognizes the io_uring backend's CQE errno
// conventions: a Timeout SQE naturally elapsing posts -ETIME, and any SQE
// unwound by an async-cancel posts -ECANCELED. A Driver wired to the
// readiness-bridge backend on linux (as the poller scenario tests do) gets
// that backend's ErrCancelled/ErrTimedOut sentinels recognized too. Anything
// else is left as a plain CodeOS errno.
func classifyBackendError(opcode op.Opcode, err error) ErrorCode {
	switch {
	case errors.Is(err, poller.ErrCancelled):
		return CodeCancelled
	case errors.Is(err, poller.ErrTimedOut):
		if _, ok := opcode.(*op.Timeout); ok {
			return CodeTimedOut
		}
		return ""
	}
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return ""
	}
	switch errno {
	case syscall.ECANCELED:
		return CodeCancelled
	case syscall.ETIME:
		if _, ok := opcode.(*op.Timeout); ok {
			return CodeTimedOut
		}
	}
	return ""
}
