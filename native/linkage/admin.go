package linkage

import (
	"context"
	"fmt"
)

// Pause halts every state-changing linkage operation. Pausing a paused module
// is a no-op.
func (e *Engine) Pause(ctx context.Context, caller [20]byte) error {
	return e.setPaused(ctx, caller, true)
}

// Unpause resumes state-changing operations.
func (e *Engine) Unpause(ctx context.Context, caller [20]byte) error {
	return e.setPaused(ctx, caller, false)
}

func (e *Engine) setPaused(ctx context.Context, caller [20]byte, paused bool) error {
	name, eventType := "unpause", EventTypeUnpaused
	if paused {
		name, eventType = "pause", EventTypePaused
	}
	e.adminMu.Lock()
	defer e.adminMu.Unlock()
	return e.run(ctx, name, nil, func(op *operation) error {
		if err := op.requireAuthority(caller); err != nil {
			return err
		}
		current, err := op.tx.Paused()
		if err != nil {
			return err
		}
		if current == paused {
			return nil
		}
		op.tx.SetPaused(paused)
		op.record(newAdminEvent(eventType, caller, op.height))
		return nil
	})
}

// TransferAuthority hands the dispute-resolution and admin rights to next.
func (e *Engine) TransferAuthority(ctx context.Context, caller, next [20]byte) error {
	e.adminMu.Lock()
	defer e.adminMu.Unlock()
	return e.run(ctx, "transfer_authority", nil, func(op *operation) error {
		if err := op.requireAuthority(caller); err != nil {
			return err
		}
		if next == ([20]byte{}) {
			return fmt.Errorf("%w: zero authority", ErrUnauthorized)
		}
		op.tx.SetAuthority(next)
		evt := newAdminEvent(EventTypeAuthorityTransferred, caller, op.height)
		evt.Attributes["authority"] = hexAddr(next)
		op.record(evt)
		return nil
	})
}

func (op *operation) requireAuthority(caller [20]byte) error {
	authority, err := op.tx.Authority()
	if err != nil {
		return err
	}
	if authority == ([20]byte{}) || caller != authority {
		return ErrUnauthorized
	}
	return nil
}
