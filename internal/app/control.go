package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	goprofv1 "goprof/api/goprof/v1"
)

// Start begins process profiling of the session targets.
func (a *App) Start(ctx context.Context, call Call) error {
	return a.withClient(ctx, call, func(ctx context.Context, client goprofv1.SessionClient) error {
		if _, err := client.Start(ctx, &emptypb.Empty{}); err != nil {
			return fmt.Errorf("agent start RPC failed: %w", err)
		}
		return nil
	})
}

// Analyze stops the running profile and asks for its report.
func (a *App) Analyze(ctx context.Context, call Call) error {
	return a.withClient(ctx, call, func(ctx context.Context, client goprofv1.SessionClient) error {
		if _, err := client.Analyze(ctx, &emptypb.Empty{}); err != nil {
			return fmt.Errorf("agent analyze RPC failed: %w", err)
		}
		return nil
	})
}

// FilterParams changes the module/function filter.
type FilterParams struct {
	Call
	Module   string
	Function string
}

// UpdateFilter replaces the filter of the session.
func (a *App) UpdateFilter(ctx context.Context, params FilterParams) error {
	if strings.TrimSpace(params.Module) == "" && strings.TrimSpace(params.Function) == "" {
		return errors.New("provide --module and/or --function")
	}
	return a.withClient(ctx, params.Call, func(ctx context.Context, client goprofv1.SessionClient) error {
		req := &goprofv1.FilterRequest{Module: params.Module, Function: params.Function}
		if _, err := client.UpdateFilter(ctx, req); err != nil {
			return fmt.Errorf("agent filter RPC failed: %w", err)
		}
		return nil
	})
}

// ArmParams arms code profiling.
type ArmParams struct {
	Call
	// Labels restricts the regions that may start profiling; empty arms any region.
	Labels []string
	// KeepSettings keeps the current filter instead of matching every function.
	KeepSettings bool
}

// Arm arms code profiling for the next matching instrumented region.
func (a *App) Arm(ctx context.Context, params ArmParams) error {
	labels := make([]string, 0, len(params.Labels))
	for _, l := range params.Labels {
		clean := strings.TrimSpace(l)
		if clean == "" {
			return errors.New("labels must not be empty")
		}
		labels = append(labels, clean)
	}
	return a.withClient(ctx, params.Call, func(ctx context.Context, client goprofv1.SessionClient) error {
		req := &goprofv1.ArmRequest{Labels: labels, KeepSettings: params.KeepSettings}
		if _, err := client.ArmCodeProfiling(ctx, req); err != nil {
			return fmt.Errorf("agent arm RPC failed: %w", err)
		}
		return nil
	})
}

// SetParams changes session settings. Nil fields are left alone.
type SetParams struct {
	Call
	LabelTransition *bool
	MaxDuration     *time.Duration
	StartWait       *time.Duration
}

// Set applies the non-nil settings in order.
func (a *App) Set(ctx context.Context, params SetParams) error {
	if params.LabelTransition == nil && params.MaxDuration == nil && params.StartWait == nil {
		return errors.New("nothing to set")
	}
	for _, d := range []*time.Duration{params.MaxDuration, params.StartWait} {
		if d != nil && *d < 0 {
			return errors.New("durations must not be negative")
		}
	}
	return a.withClient(ctx, params.Call, func(ctx context.Context, client goprofv1.SessionClient) error {
		if params.LabelTransition != nil {
			if _, err := client.SetLabelTransition(ctx, wrapperspb.Bool(*params.LabelTransition)); err != nil {
				return fmt.Errorf("agent set label transition RPC failed: %w", err)
			}
		}
		if params.MaxDuration != nil {
			req := &goprofv1.DurationRequest{Millis: params.MaxDuration.Milliseconds()}
			if _, err := client.SetMaxDuration(ctx, req); err != nil {
				return fmt.Errorf("agent set max duration RPC failed: %w", err)
			}
		}
		if params.StartWait != nil {
			req := &goprofv1.DurationRequest{Millis: params.StartWait.Milliseconds()}
			if _, err := client.SetStartWait(ctx, req); err != nil {
				return fmt.Errorf("agent set start wait RPC failed: %w", err)
			}
		}
		return nil
	})
}
