// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build !unix

package procgroup

import (
	"os"
	"os/exec"
	"syscall"
)

func set(cmd *exec.Cmd) {}

// Without process groups only the leader can be reached.
func signalGroup(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return nil
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	if sig == syscall.SIGKILL {
		return proc.Kill()
	}
	return proc.Signal(os.Interrupt)
}

func groupAlive(pgid int) bool { return false }
