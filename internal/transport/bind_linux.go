//go:build linux

package transport

import (
	"errors"
	"fmt"
	"sync"
	"syscall"

	zlog "github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

var warnNoBindOnce sync.Once

// bindToDevice 는 dial 직전 소켓에 SO_BINDTODEVICE 를 건다.
// EPERM 이면 경고 한 번 남기고 주소 bind 로 계속 간다.
func bindToDevice(device string) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		var opErr error
		if err := c.Control(func(fd uintptr) {
			opErr = unix.BindToDevice(int(fd), device)
		}); err != nil {
			return err
		}

		if errors.Is(opErr, unix.EPERM) {
			warnNoBindOnce.Do(func() {
				zlog.Warn().Str("device", device).Msg("SO_BINDTODEVICE not permitted, falling back to source address binding")
			})
			return nil
		}
		if opErr != nil {
			return fmt.Errorf("bind to device %s: %w", device, opErr)
		}
		return nil
	}
}
