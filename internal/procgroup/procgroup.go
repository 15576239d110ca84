// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package procgroup spawns commands as process-group leaders so that a
// transcoder and everything it forks can be stopped as one unit.
package procgroup

import (
	"errors"
	"os/exec"
	"syscall"
	"time"

	"github.com/ManuGH/hlsforge/internal/log"
	"github.com/ManuGH/hlsforge/internal/metrics"
)

// Set configures the command to start in a new process group.
// Mandatory for Kill and Terminate to reach the whole tree.
func Set(cmd *exec.Cmd) {
	set(cmd)
}

// Kill sends sig to the process group led by cmd. A group that is already
// gone is not an error.
func Kill(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return signalGroup(cmd.Process.Pid, sig)
}

// Alive reports whether any member of the process group pgid still exists.
func Alive(pgid int) bool {
	return groupAlive(pgid)
}

// Terminate stops the group: SIGTERM, wait up to grace for waitCh, then
// SIGKILL and wait again. It consumes waitCh and returns its error. Safe to
// call on nil commands.
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	pid := cmd.Process.Pid

	send(cmd, syscall.SIGTERM)

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case err := <-waitCh:
		if err == nil {
			metrics.IncProcWait("exit0")
		} else {
			metrics.IncProcWait("exit_nonzero")
		}
		return err
	case <-timer.C:
	}

	log.L().Warn().
		Int(log.FieldPID, pid).
		Dur("grace", grace).
		Msg("SIGTERM grace period exceeded, sending SIGKILL to process group")
	send(cmd, syscall.SIGKILL)

	err := <-waitCh
	if err == nil {
		metrics.IncProcWait("forced_exit0")
	} else {
		metrics.IncProcWait("forced_error")
	}
	return err
}

func send(cmd *exec.Cmd, sig syscall.Signal) {
	name := sig.String()
	if sig == syscall.SIGTERM {
		name = "SIGTERM"
	} else if sig == syscall.SIGKILL {
		name = "SIGKILL"
	}
	err := Kill(cmd, sig)
	switch {
	case err == nil:
		metrics.IncProcTerminate(name, "sent")
	case errors.Is(err, syscall.ESRCH):
		metrics.IncProcTerminate(name, "esrch")
	default:
		metrics.IncProcTerminate(name, "error")
		log.L().Debug().Err(err).Int(log.FieldPID, cmd.Process.Pid).Str("signal", name).Msg("signal failed")
	}
}
