//go:build windows

package terminal

import (
	"errors"
	"syscall"
)

func isPTYHangup(err error) bool {
	return errors.Is(err, syscall.ERROR_BROKEN_PIPE)
}
