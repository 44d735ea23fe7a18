// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vault Contributors

package engine

import (
	"context"
	"strconv"

	"github.com/vaultml/vault/internal/ledger"
	"github.com/vaultml/vault/internal/store"
	vaulterr "github.com/vaultml/vault/pkg/errors"
)

// Interrupt protocol states persisted on the session list head.
// pause/stop are pending requests set by the peer; the start_* values record
// that the target acknowledged and acted on one at a checkpoint.
const (
	InterruptPause = "pause"
	InterruptStop  = "stop"
	StatePaused    = "start_pause"
	StateKilled    = "start_kill"
	StateResumed   = "start_resume"
)

// AddCodeStart appends a session cell in status "start" and returns its index.
func (e *Engine) AddCodeStart(ctx context.Context, session, text string) (int, error) {
	res, err := e.AppendItem(ctx, AppendInput{
		Name:   session,
		Text:   text,
		Status: CellStatusStart,
	})
	if err != nil {
		return 0, err
	}
	return res.Index, nil
}

// AddCodeEnd finalizes a cell: status becomes "complete" and the error
// message, possibly empty, is recorded. Recovery resumes it forward.
func (e *Engine) AddCodeEnd(ctx context.Context, session string, index int, errMsg string) error {
	elemKey := store.ElementKey(session, index)
	args := []string{OpSessionCodeEnd, session, elemKey, errMsg}
	return e.run(ctx, args, func(ts uint64) error {
		if err := e.lockItem(ctx, session, ts); err != nil {
			return err
		}
		if err := e.finalizeCell(ctx, session, elemKey, errMsg); err != nil {
			return err
		}
		return e.bumpVersion(ctx, session)
	})
}

func (e *Engine) finalizeCell(ctx context.Context, session, elemKey, errMsg string) error {
	patch := map[string]any{"status": CellStatusComplete, "error": errMsg}
	_, err := e.st.Documents().Update(ctx, store.KindSession.ElementCollection(), elemKey, patch, "", true)
	if err != nil {
		if store.IsNotFound(err) {
			return vaulterr.New(vaulterr.CodeSessionCellOutOfOrder, "cell was never started",
				vaulterr.FieldItem(session), vaulterr.FieldKey(elemKey))
		}
		return vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "finalizing cell",
			vaulterr.FieldKey(elemKey))
	}
	return nil
}

// RequestInterrupt asks another session to pause or stop at its next
// checkpoint. Only the target's list-head fields change; delivery is
// cooperative.
func (e *Engine) RequestInterrupt(ctx context.Context, target, requester, action string) error {
	if action != InterruptPause && action != InterruptStop {
		return vaulterr.New(vaulterr.CodeEngineAppendInvalid, "interrupt action must be pause or stop",
			vaulterr.FieldItem(target))
	}

	args := []string{OpSessionStopPause, target, requester, action}
	return e.run(ctx, args, func(ts uint64) error {
		if _, _, err := e.sessionHead(ctx, target); err != nil {
			return err
		}
		return e.patchHead(ctx, store.KindSession.ListCollection(), target, map[string]any{
			"interrupt_request": requester,
			"interrupt_action":  action,
		})
	})
}

// AcknowledgeInterrupt is called by the target at a checkpoint, before it
// signals itself: the pending action is replaced with its start_* state so a
// crash between persist and signal is observable.
func (e *Engine) AcknowledgeInterrupt(ctx context.Context, session, state string) error {
	return e.patchHead(ctx, store.KindSession.ListCollection(), session, map[string]any{
		"interrupt_action": state,
	})
}

// ClearInterrupt resets both interrupt fields.
func (e *Engine) ClearInterrupt(ctx context.Context, session string) error {
	return e.patchHead(ctx, store.KindSession.ListCollection(), session, map[string]any{
		"interrupt_request": "",
		"interrupt_action":  "",
	})
}

// RegisterSessionPID records the process hosting the session so interrupt
// signals can reach it.
func (e *Engine) RegisterSessionPID(ctx context.Context, session string, pid int) error {
	return e.patchHead(ctx, store.KindSession.ListCollection(), session, map[string]any{"pid": pid})
}

// ResumeRequest continues a paused peer session: record start_resume, send
// SIGCONT to its PID, then clear the interrupt fields.
func (e *Engine) ResumeRequest(ctx context.Context, target string) error {
	args := []string{OpSessionResume, target}
	return e.run(ctx, args, func(ts uint64) error {
		head, _, err := e.sessionHead(ctx, target)
		if err != nil {
			return err
		}
		if head.InterruptAction != StatePaused {
			return vaulterr.New(vaulterr.CodeSessionNotPaused, "session is not paused",
				vaulterr.FieldItem(target),
				vaulterr.Field("interrupt_action", head.InterruptAction))
		}

		full := []string{OpSessionResume, target, strconv.Itoa(head.PID)}
		if err := e.led.UpdateArgs(ctx, ts, full); err != nil {
			return err
		}

		if err := e.AcknowledgeInterrupt(ctx, target, StateResumed); err != nil {
			return err
		}
		if err := e.sendCont(head.PID, target); err != nil {
			return err
		}
		return e.ClearInterrupt(ctx, target)
	})
}

// SessionHead reads a session's list head, mapping absence to a session
// error.
func (e *Engine) SessionHead(ctx context.Context, session string) (*store.ListHead, error) {
	head, _, err := e.sessionHead(ctx, session)
	return head, err
}

func (e *Engine) sessionHead(ctx context.Context, session string) (*store.ListHead, string, error) {
	head, rev, err := e.readHead(ctx, store.KindSession.ListCollection(), session)
	if err != nil {
		if vaulterr.IsNotFound(err) {
			return nil, "", vaulterr.New(vaulterr.CodeSessionNotFound, "session does not exist",
				vaulterr.FieldItem(session))
		}
		return nil, "", err
	}
	return head, rev, nil
}

func (e *Engine) sendCont(pid int, target string) error {
	if e.signalCont == nil || pid <= 0 {
		return vaulterr.New(vaulterr.CodeSessionSignalFailure, "no signal route to session process",
			vaulterr.FieldItem(target), vaulterr.Field("pid", pid))
	}
	if err := e.signalCont(pid); err != nil {
		return vaulterr.Wrap(err, vaulterr.CodeSessionSignalFailure, "delivering SIGCONT",
			vaulterr.FieldItem(target), vaulterr.Field("pid", pid))
	}
	return nil
}

// resumeSessionCodeEnd finishes an interrupted cell finalize forward.
func resumeSessionCodeEnd(ctx context.Context, e *Engine, entry ledger.Entry) error {
	if len(entry.Args) < 4 {
		return vaulterr.New(vaulterr.CodeEngineReverseFailure, "malformed cell-end op args",
			vaulterr.FieldTimestamp(entry.TS))
	}
	session, elemKey, errMsg := entry.Args[1], entry.Args[2], entry.Args[3]
	err := e.finalizeCell(ctx, session, elemKey, errMsg)
	if err != nil && vaulterr.HasCode(err, vaulterr.CodeSessionCellOutOfOrder) {
		// Cell already deleted; nothing left to finalize.
		return nil
	}
	return err
}

// resumeSessionResume re-issues SIGCONT to the recorded PID and clears the
// interrupt fields if the session still shows the resume in progress.
func resumeSessionResume(ctx context.Context, e *Engine, entry ledger.Entry) error {
	if len(entry.Args) < 2 {
		return vaulterr.New(vaulterr.CodeEngineReverseFailure, "malformed resume op args",
			vaulterr.FieldTimestamp(entry.TS))
	}
	target := entry.Args[1]

	head, _, err := e.sessionHead(ctx, target)
	if err != nil {
		if vaulterr.HasCode(err, vaulterr.CodeSessionNotFound) {
			return nil
		}
		return err
	}
	if head.InterruptAction != StateResumed && head.InterruptAction != StatePaused {
		return nil
	}

	pid := head.PID
	if len(entry.Args) >= 3 {
		if p, perr := strconv.Atoi(entry.Args[2]); perr == nil && p > 0 {
			pid = p
		}
	}
	if err := e.sendCont(pid, target); err != nil {
		return err
	}
	return e.ClearInterrupt(ctx, target)
}
