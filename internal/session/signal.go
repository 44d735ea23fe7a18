// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vault Contributors

package session

import (
	"golang.org/x/sys/unix"
)

// Signaller delivers the interrupt protocol's process signals. The production
// implementation sends real signals; tests substitute a recorder.
type Signaller interface {
	Stop(pid int) error // SIGSTOP: pause
	Cont(pid int) error // SIGCONT: resume
	Term(pid int) error // SIGTERM: stop
}

// UnixSignaller sends signals through the kernel.
type UnixSignaller struct{}

func (UnixSignaller) Stop(pid int) error { return unix.Kill(pid, unix.SIGSTOP) }
func (UnixSignaller) Cont(pid int) error { return unix.Kill(pid, unix.SIGCONT) }
func (UnixSignaller) Term(pid int) error { return unix.Kill(pid, unix.SIGTERM) }
