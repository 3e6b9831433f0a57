package journal

import (
	"context"
	"log/slog"

	"github.com/roach88/statestore/internal/action"
	"github.com/roach88/statestore/internal/execstack"
	"github.com/roach88/statestore/internal/snapshot"
	"github.com/roach88/statestore/internal/store"
	"github.com/roach88/statestore/internal/tree"
)

// Middleware journals every plain action: a pending row before the action
// goes downstream, then its outcome and the digest of the tree it left
// behind. Journal failures are logged and never fail the dispatch.
//
// Under the concurrent strategy the recorded digest may include publishes
// from dispatches that finished in between.
func Middleware(j *Journal, logger *slog.Logger) store.Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(api store.API) func(next store.Dispatch) store.Dispatch {
		return func(next store.Dispatch) store.Dispatch {
			return func(ctx context.Context, v any) error {
				a, ok := v.(action.Action)
				ins := store.InstructionFrom(ctx)
				if !ok || ins == nil {
					return next(ctx, v)
				}

				// Journal writes outlive a cancelled dispatch context.
				wctx := context.WithoutCancel(ctx)

				entry := Entry{
					ID:         ins.ID,
					StoreID:    api.StoreID,
					Seq:        ins.Seq,
					Kind:       ins.Kind.String(),
					ActionType: a.Type,
					Payload:    payloadJSON(logger, a),
					Strategy:   api.Strategy().String(),
				}
				if parent, ok := ins.Context.(*execstack.Instruction); ok {
					entry.ParentID = parent.ID
				}
				if err := j.Begin(wctx, entry); err != nil {
					logger.Warn("journal write failed", "action", a.Type, "error", err)
				}

				err := next(ctx, v)

				status, msg := StatusOK, ""
				switch {
				case err == nil:
				case store.IsPropagationTimeout(err):
					status, msg = StatusTimeout, err.Error()
				default:
					status, msg = StatusFailed, err.Error()
				}

				var digest string
				if status != StatusFailed {
					d, derr := snapshot.StateDigest(api.GetState(tree.Wildcard))
					if derr != nil {
						logger.Warn("state digest unavailable", "action", a.Type, "error", derr)
					}
					digest = d
				}
				if ferr := j.Finish(wctx, ins.ID, status, msg, digest); ferr != nil {
					logger.Warn("journal write failed", "action", a.Type, "error", ferr)
				}
				return err
			}
		}
	}
}

func payloadJSON(logger *slog.Logger, a action.Action) string {
	data, err := snapshot.Marshal(a.Payload)
	if err != nil {
		logger.Debug("payload not journaled", "action", a.Type, "error", err)
		return "null"
	}
	return string(data)
}
