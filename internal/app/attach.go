package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/emptypb"

	goprofv1 "goprof/api/goprof/v1"
)

// AttachParams configures a new profiling session. Zero values fall back to
// the agent configuration.
type AttachParams struct {
	Call
	Backend         string
	Targets         string
	Module          string
	Function        string
	Sort            string
	ResultsDir      string
	MaxDuration     time.Duration
	StartWait       time.Duration
	SetOnSpawn      bool
	LabelTransition bool
}

func (p AttachParams) buildRequest() (*goprofv1.AttachRequest, error) {
	if p.MaxDuration < 0 || p.StartWait < 0 {
		return nil, errors.New("durations must not be negative")
	}
	return &goprofv1.AttachRequest{
		Backend:         p.Backend,
		Targets:         p.Targets,
		Module:          p.Module,
		Function:        p.Function,
		Sort:            p.Sort,
		ResultsDir:      p.ResultsDir,
		MaxDurationMs:   p.MaxDuration.Milliseconds(),
		StartWaitMs:     p.StartWait.Milliseconds(),
		SetOnSpawn:      p.SetOnSpawn,
		LabelTransition: p.LabelTransition,
	}, nil
}

// Attach starts a session on the agent and returns its id.
func (a *App) Attach(ctx context.Context, params AttachParams) (string, error) {
	req, err := params.buildRequest()
	if err != nil {
		return "", err
	}
	var id string
	err = a.withClient(ctx, params.Call, func(ctx context.Context, client goprofv1.SessionClient) error {
		resp, err := client.Attach(ctx, req)
		if err != nil {
			return fmt.Errorf("agent attach RPC failed: %w", err)
		}
		id = resp.GetSessionId()
		return nil
	})
	return id, err
}

// Detach terminates the session and restores the target program.
func (a *App) Detach(ctx context.Context, call Call) error {
	return a.withClient(ctx, call, func(ctx context.Context, client goprofv1.SessionClient) error {
		if _, err := client.Detach(ctx, &emptypb.Empty{}); err != nil {
			return fmt.Errorf("agent detach RPC failed: %w", err)
		}
		return nil
	})
}
