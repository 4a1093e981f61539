//go:build !linux

package transport

import "syscall"

// 다른 OS 는 주소 bind 만 한다.
func bindToDevice(string) func(network, address string, c syscall.RawConn) error {
	return nil
}
