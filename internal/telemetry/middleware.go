package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/statestore/internal/action"
	"github.com/roach88/statestore/internal/execstack"
	"github.com/roach88/statestore/internal/store"
)

// Attribute keys set on dispatch spans.
const (
	AttrActionType      = attribute.Key("action.type")
	AttrInstructionKind = attribute.Key("instruction.kind")
	AttrInstructionSeq  = attribute.Key("instruction.seq")
	AttrParentID        = attribute.Key("instruction.parent_id")
	AttrStoreID         = attribute.Key("store.id")
	AttrStoreStrategy   = attribute.Key("store.strategy")
)

// Middleware starts one span per plain action and ends it once the action
// has been reduced and published. Failed dispatches record the error and
// set an error status.
func Middleware(tracer trace.Tracer) store.Middleware {
	return func(api store.API) func(next store.Dispatch) store.Dispatch {
		return func(next store.Dispatch) store.Dispatch {
			return func(ctx context.Context, v any) error {
				a, ok := v.(action.Action)
				if !ok {
					return next(ctx, v)
				}

				attrs := []attribute.KeyValue{
					AttrActionType.String(a.Type),
					AttrStoreID.String(api.StoreID),
					AttrStoreStrategy.String(api.Strategy().String()),
				}
				if ins := store.InstructionFrom(ctx); ins != nil {
					attrs = append(attrs,
						AttrInstructionKind.String(ins.Kind.String()),
						AttrInstructionSeq.Int64(ins.Seq))
					if parent, ok := ins.Context.(*execstack.Instruction); ok {
						attrs = append(attrs, AttrParentID.String(parent.ID))
					}
				}

				ctx, span := tracer.Start(ctx, "dispatch "+a.Type,
					trace.WithSpanKind(trace.SpanKindInternal),
					trace.WithAttributes(attrs...))
				defer span.End()

				err := next(ctx, v)
				if err != nil {
					span.RecordError(err)
					span.SetStatus(codes.Error, err.Error())
				}
				return err
			}
		}
	}
}
