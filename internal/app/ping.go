package app

import (
	"context"
	"fmt"

	"google.golang.org/protobuf/types/known/emptypb"

	goprofv1 "goprof/api/goprof/v1"
)

// Ping contacts the agent and returns its health response.
func (a *App) Ping(ctx context.Context, call Call) (string, error) {
	var msg string
	err := a.withClient(ctx, call, func(ctx context.Context, client goprofv1.SessionClient) error {
		resp, err := client.Ping(ctx, &emptypb.Empty{})
		if err != nil {
			return fmt.Errorf("agent ping RPC failed: %w", err)
		}
		msg = resp.GetValue()
		return nil
	})
	return msg, err
}
