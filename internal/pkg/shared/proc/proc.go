package proc

import (
	"os"
	"syscall"
)

// GetProcID get the current process ID
func GetProcID() int {
	return os.Getpid()
}

// IsAlive check whether PID refers to a running process
func IsAlive(pid int) bool {
	// ignore error since it always return nil except on Windows
	proc, _ := os.FindProcess(pid)
	// signal 0 checks the process existence without affecting it
	err := proc.Signal(syscall.Signal(0))
	return err == nil
}
