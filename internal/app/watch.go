package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/types/known/emptypb"
)

// Watch streams session events to fn until ctx is cancelled, the session
// ends or fn returns an error. Timeout bounds the connection attempt only.
// The open stream keeps the session alive.
func (a *App) Watch(ctx context.Context, call Call, fn func(Event) error) error {
	if call.Timeout <= 0 {
		return errors.New("timeout must be greater than 0")
	}
	socket, err := a.socket(call)
	if err != nil {
		return err
	}
	dialCtx, cancel := context.WithTimeout(ctx, call.Timeout)
	client, conn, err := dialAgentClient(dialCtx, socket)
	cancel()
	if err != nil {
		return fmt.Errorf("connect to agent: %w", err)
	}
	if conn != nil {
		defer conn.Close()
	}

	stream, err := client.Watch(ctx, &emptypb.Empty{})
	if err != nil {
		return fmt.Errorf("agent watch RPC failed: %w", err)
	}
	for {
		ev, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("watch stream: %w", err)
		}
		if err := fn(eventFromProto(ev)); err != nil {
			return err
		}
	}
}
