// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vault Contributors

// Package session tracks code execution ranges inside a named session and
// mediates cooperative pause/resume/stop between sessions. The host
// environment supplies only cell-start and cell-end events; the controller
// turns them into session elements and honours pending interrupt requests at
// explicit checkpoints.
package session

import (
	"context"
	"os"
	"sync"

	"github.com/vaultml/vault/internal/engine"
	"github.com/vaultml/vault/internal/store"
	vaulterr "github.com/vaultml/vault/pkg/errors"
)

// Hooks is the host-environment capability: a notebook runtime calls pre on
// each cell start and post on each cell end; the script variant fires pre at
// construction and post on exit.
type Hooks interface {
	RegisterPre(fn func(cellText string))
	RegisterPost(fn func(execErr error))
}

// Controller is the per-process session controller.
type Controller struct {
	eng  *engine.Engine
	name string
	sig  Signaller
	pid  int

	mu      sync.Mutex
	current int
	inCell  bool
}

// New creates the controller, registers the session list if it does not
// exist yet, and records this process's PID on the list head.
func New(ctx context.Context, eng *engine.Engine, name string, sig Signaller) (*Controller, error) {
	if sig == nil {
		sig = UnixSignaller{}
	}
	c := &Controller{
		eng:  eng,
		name: name,
		sig:  sig,
		pid:  os.Getpid(),
	}

	err := eng.CreateItemList(ctx, engine.CreateListInput{Name: name, Kind: store.KindSession})
	if err != nil && !vaulterr.IsDuplicate(err) {
		return nil, err
	}
	if err := eng.RegisterSessionPID(ctx, name, c.pid); err != nil {
		return nil, err
	}

	eng.SetSessionProvider(c.currentRef)
	eng.SetContSignaller(sig.Cont)
	return c, nil
}

// Name returns the session's item name.
func (c *Controller) Name() string { return c.name }

func (c *Controller) currentRef() (engine.SessionRef, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.inCell {
		return engine.SessionRef{}, false
	}
	return engine.SessionRef{Name: c.name, CellIndex: c.current}, true
}

// Bind attaches the controller to a host environment.
func (c *Controller) Bind(h Hooks) {
	h.RegisterPre(func(cellText string) {
		if err := c.CellStart(context.Background(), cellText); err != nil {
			// Losing a cell record must not break the host environment.
			_ = err
		}
	})
	h.RegisterPost(func(execErr error) {
		_ = c.CellEnd(context.Background(), execErr)
	})
}

// CellStart records the beginning of a cell execution and makes the cell the
// session-parent for items created until CellEnd.
func (c *Controller) CellStart(ctx context.Context, text string) error {
	index, err := c.eng.AddCodeStart(ctx, c.name, text)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.current = index
	c.inCell = true
	c.mu.Unlock()
	return nil
}

// CellEnd finalizes the current cell with the execution outcome.
func (c *Controller) CellEnd(ctx context.Context, execErr error) error {
	c.mu.Lock()
	if !c.inCell {
		c.mu.Unlock()
		return vaulterr.New(vaulterr.CodeSessionCellOutOfOrder, "no cell in progress",
			vaulterr.FieldItem(c.name))
	}
	index := c.current
	c.inCell = false
	c.mu.Unlock()

	msg := ""
	if execErr != nil {
		msg = execErr.Error()
	}
	return c.eng.AddCodeEnd(ctx, c.name, index, msg)
}

// Pause asks another session to pause at its next checkpoint.
func (c *Controller) Pause(ctx context.Context, target string) error {
	return c.eng.RequestInterrupt(ctx, target, c.name, engine.InterruptPause)
}

// Stop asks another session to stop at its next checkpoint.
func (c *Controller) Stop(ctx context.Context, target string) error {
	return c.eng.RequestInterrupt(ctx, target, c.name, engine.InterruptStop)
}

// Resume continues a session this controller previously paused.
func (c *Controller) Resume(ctx context.Context, target string) error {
	return c.eng.ResumeRequest(ctx, target)
}

// Checkpoint is the rendezvous point: the session inspects its own list head
// and honours a pending interrupt. The acknowledged state is persisted before
// the signal goes out, so a crash in between is observable and recoverable.
func (c *Controller) Checkpoint(ctx context.Context) error {
	head, err := c.eng.SessionHead(ctx, c.name)
	if err != nil {
		return err
	}

	switch head.InterruptAction {
	case engine.InterruptPause:
		if err := c.eng.AcknowledgeInterrupt(ctx, c.name, engine.StatePaused); err != nil {
			return err
		}
		if err := c.sig.Stop(c.pid); err != nil {
			return vaulterr.Wrap(err, vaulterr.CodeSessionSignalFailure, "delivering SIGSTOP",
				vaulterr.FieldItem(c.name), vaulterr.Field("pid", c.pid))
		}
	case engine.InterruptStop:
		if err := c.eng.AcknowledgeInterrupt(ctx, c.name, engine.StateKilled); err != nil {
			return err
		}
		if err := c.sig.Term(c.pid); err != nil {
			return vaulterr.Wrap(err, vaulterr.CodeSessionSignalFailure, "delivering SIGTERM",
				vaulterr.FieldItem(c.name), vaulterr.Field("pid", c.pid))
		}
	}
	return nil
}
