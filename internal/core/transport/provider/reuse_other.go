//go:build !unix

package provider

import "syscall"

func reusePortControl(_, _ string, _ syscall.RawConn) error {
	return nil
}
