package app

import (
	"context"
	"fmt"

	"google.golang.org/protobuf/types/known/emptypb"

	goprofv1 "goprof/api/goprof/v1"
)

// Reset aborts a running profile without a report and disarms code profiling.
func (a *App) Reset(ctx context.Context, call Call) error {
	return a.withClient(ctx, call, func(ctx context.Context, client goprofv1.SessionClient) error {
		if _, err := client.Reset(ctx, &emptypb.Empty{}); err != nil {
			return fmt.Errorf("agent reset RPC failed: %w", err)
		}
		return nil
	})
}
