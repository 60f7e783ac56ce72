//go:build windows

package driver

import (
	"github.com/go-completio/completio/internal/iocp"
	"github.com/go-completio/completio/op"
)

func newBackend(cfg Config) (backend, error) {
	return iocp.New(cfg.entries())
}

// classifyBackendError is a no-op on this backend: iocp's SubmitWait never
// passes a non-nil per-entry error today (see DESIGN.md's review notes),
// so there is nothing yet to classify.
func classifyBackendError(opcode op.Opcode, err error) ErrorCode {
	return ""
}
