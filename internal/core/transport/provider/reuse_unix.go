//go:build unix

package provider

import (
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

// reusePortControl 设置 SO_REUSEADDR 和 SO_REUSEPORT
func reusePortControl(_, _ string, c syscall.RawConn) error {
	var opErr error
	err := c.Control(func(fd uintptr) {
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			opErr = fmt.Errorf("set SO_REUSEADDR: %w", err)
			return
		}
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			// 部分系统不支持，继续使用 SO_REUSEADDR
			logger.Warn("设置 SO_REUSEPORT 失败", "error", err)
		}
	})
	if err != nil {
		return err
	}
	return opErr
}
