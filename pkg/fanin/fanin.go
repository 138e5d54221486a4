// Package fanin coordinates the one-producer → N-children → one-continuation
// pattern. A producer stages a continuation and a pending counter before
// pushing children; every terminal child decrements the counter, and the
// exactly-one observer of the zero crossing releases the continuation.
package fanin

import (
	"context"

	"github.com/trendwatch/trendwatch/pkg/models"
)

// Outcome reports the effect of one terminal child on the entity's fan-in.
type Outcome struct {
	// Complete is true when this termination was the last outstanding child
	// (or the counter was already exhausted). Cleanup should run.
	Complete bool

	// Continuation is the staged follow-up, present on at most one Complete
	// outcome per staging. Nil when no continuation was staged or another
	// observer already consumed it.
	Continuation *models.Continuation
}

// Coordinator is the fan-in contract.
//
// TaskTerminal must be invoked exactly once per child task, on its terminal
// transition only, never on intermediate retry attempts. The decrement is
// atomic; concurrent terminations are safe.
type Coordinator interface {
	// Stage records the continuation and the number of children about to be
	// pushed. Called before the children are enqueued.
	Stage(ctx context.Context, ref models.EntityRef, cont *models.Continuation, pending int) error

	// TaskTerminal decrements the pending counter, bumps the entity's done
	// count, and on the zero crossing consumes and returns the continuation.
	TaskTerminal(ctx context.Context, ref models.EntityRef) (*Outcome, error)
}
