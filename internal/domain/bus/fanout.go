package bus

import (
	"context"

	"go.uber.org/multierr"
)

// Fanout emits to every publisher and reports all failures together.
type Fanout []Publisher

func (f Fanout) Emit(ctx context.Context, name, workspaceID string, payload any) error {
	var err error
	for _, p := range f {
		if p == nil {
			continue
		}
		err = multierr.Append(err, p.Emit(ctx, name, workspaceID, payload))
	}
	return err
}
