package core

import (
	"context"
	"fmt"

	"DeficitLedger/internal/event"
)

// Command pairs an event with a reply channel so a caller can observe the
// outcome of the single-writer pipeline synchronously. A command with
// Snapshot set instead asks the core for a consistent state capture, taken
// between events on the core goroutine.
type Command struct {
	Event event.Event
	Reply chan error

	Snapshot chan *SnapshotState
}

// Run drains the command channel until ctx is cancelled. All state mutation
// happens on this goroutine; Submit is the only way in.
func (c *SettlementCore) Run(ctx context.Context, commands <-chan Command) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-commands:
			if !ok {
				return
			}
			if cmd.Snapshot != nil {
				cmd.Snapshot <- c.CreateSnapshotState()
				continue
			}
			err := c.ProcessEvent(cmd.Event)
			if cmd.Reply != nil {
				cmd.Reply <- err
			}
		}
	}
}

// Submitter serializes events into the core's command loop
type Submitter struct {
	commands chan<- Command
}

func NewSubmitter(commands chan<- Command) *Submitter {
	return &Submitter{commands: commands}
}

// Submit sends an event to the core and waits for the result. A rejection
// surfaces here as the error the handler returned.
func (s *Submitter) Submit(ctx context.Context, evt event.Event) error {
	reply := make(chan error, 1)

	select {
	case <-ctx.Done():
		return fmt.Errorf("submit %s: %w", evt.EventType(), ctx.Err())
	case s.commands <- Command{Event: evt, Reply: reply}:
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("submit %s: %w", evt.EventType(), ctx.Err())
	case err := <-reply:
		return err
	}
}

// Snapshot asks the core for a consistent capture of its in-memory state.
// The capture happens on the core goroutine, never concurrently with event
// processing.
func (s *Submitter) Snapshot(ctx context.Context) (*SnapshotState, error) {
	reply := make(chan *SnapshotState, 1)

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("snapshot request: %w", ctx.Err())
	case s.commands <- Command{Snapshot: reply}:
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("snapshot request: %w", ctx.Err())
	case snap := <-reply:
		return snap, nil
	}
}
