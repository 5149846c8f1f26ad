//go:build !windows

package console

import "syscall"

// restartProcess replaces the current process image in place, so the
// restarted proxy keeps the same pid.
func restartProcess(exe string, argv, envv []string) error {
	return syscall.Exec(exe, argv, envv)
}
