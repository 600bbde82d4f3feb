package app

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/emptypb"

	goprofv1 "goprof/api/goprof/v1"
)

// State fetches the session snapshot.
func (a *App) State(ctx context.Context, call Call) (State, error) {
	var st State
	err := a.withClient(ctx, call, func(ctx context.Context, client goprofv1.SessionClient) error {
		resp, err := client.GetState(ctx, &emptypb.Empty{})
		if err != nil {
			return fmt.Errorf("agent state RPC failed: %w", err)
		}
		st = stateFromProto(resp)
		return nil
	})
	return st, err
}

// Results drains the reports queued since the last call.
func (a *App) Results(ctx context.Context, call Call) ([]Result, error) {
	var out []Result
	err := a.withClient(ctx, call, func(ctx context.Context, client goprofv1.SessionClient) error {
		var err error
		out, err = latest(ctx, client)
		return err
	})
	return out, err
}

// WaitParams configures WaitResults. Timeout bounds the whole wait.
type WaitParams struct {
	Call
	Poll time.Duration
}

// WaitResults polls until at least one report is queued or the timeout expires.
func (a *App) WaitResults(ctx context.Context, params WaitParams) ([]Result, error) {
	poll := params.Poll
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	var out []Result
	err := a.withClient(ctx, params.Call, func(ctx context.Context, client goprofv1.SessionClient) error {
		ticker := time.NewTicker(poll)
		defer ticker.Stop()
		for {
			res, err := latest(ctx, client)
			if err != nil {
				return err
			}
			if len(res) > 0 {
				out = res
				return nil
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("no result within %s", params.Timeout)
			case <-ticker.C:
			}
		}
	})
	return out, err
}

func latest(ctx context.Context, client goprofv1.SessionClient) ([]Result, error) {
	resp, err := client.GetLatestResults(ctx, &emptypb.Empty{})
	if err != nil {
		return nil, fmt.Errorf("agent results RPC failed: %w", err)
	}
	out := make([]Result, 0, len(resp.GetResults()))
	for _, r := range resp.GetResults() {
		out = append(out, resultFromProto(r))
	}
	return out, nil
}
