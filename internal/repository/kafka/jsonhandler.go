package kafka

import (
	"context"
	"encoding/json"
	"fmt"
)

// JSONHandler decodes each value into M before calling handle. Tombstones
// (empty values) are skipped.
func JSONHandler[M any](handle func(ctx context.Context, key []byte, msg M) error) Handler {
	return func(ctx context.Context, key, value []byte) error {
		if len(value) == 0 {
			return nil
		}
		var msg M
		if err := json.Unmarshal(value, &msg); err != nil {
			return fmt.Errorf("decode %T: %w", msg, err)
		}
		return handle(ctx, key, msg)
	}
}
