package agent

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	goprofv1 "goprof/api/goprof/v1"
	"goprof/internal/backend"
	"goprof/internal/coordinator"
	"goprof/internal/resolve"
	"goprof/internal/session"
)

// service implements the controller API on top of the agent.
type service struct {
	goprofv1.UnimplementedSessionServer

	agent *Agent
}

// EventLinked is the first event of every Watch stream and carries the
// current state.
const EventLinked = "linked"

var empty = &emptypb.Empty{}

// session returns the attached session and resets its keepalive window.
func (s *service) session() (*session.Session, error) {
	sess, err := s.agent.Session()
	if err != nil {
		return nil, toStatus(err)
	}
	sess.Touch()
	return sess, nil
}

func (s *service) Attach(ctx context.Context, req *goprofv1.AttachRequest) (*goprofv1.AttachResponse, error) {
	sess, err := s.agent.Attach(req)
	if err != nil {
		return nil, toStatus(err)
	}
	return &goprofv1.AttachResponse{SessionId: sess.ID()}, nil
}

func (s *service) Detach(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if err := s.agent.Detach(ctx); err != nil {
		return nil, toStatus(err)
	}
	return empty, nil
}

func (s *service) Start(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	sess, err := s.session()
	if err != nil {
		return nil, err
	}
	return empty, toStatus(sess.Start())
}

func (s *service) Reset(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	sess, err := s.session()
	if err != nil {
		return nil, err
	}
	return empty, toStatus(sess.Reset(ctx))
}

func (s *service) Analyze(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	sess, err := s.session()
	if err != nil {
		return nil, err
	}
	return empty, toStatus(sess.Analyze())
}

func (s *service) UpdateFilter(ctx context.Context, req *goprofv1.FilterRequest) (*emptypb.Empty, error) {
	sess, err := s.session()
	if err != nil {
		return nil, err
	}
	f := backend.Filter{Module: req.Module, Function: req.Function}
	if err := f.Validate(); err != nil {
		return nil, toStatus(err)
	}
	return empty, toStatus(sess.UpdateFilter(ctx, f))
}

func (s *service) ArmCodeProfiling(ctx context.Context, req *goprofv1.ArmRequest) (*emptypb.Empty, error) {
	if _, err := s.session(); err != nil {
		return nil, err
	}
	return empty, toStatus(s.agent.ArmCode(req.GetLabels(), nil, req.KeepSettings))
}

func (s *service) GetState(ctx context.Context, _ *emptypb.Empty) (*goprofv1.StateResponse, error) {
	sess, err := s.session()
	if err != nil {
		return nil, err
	}
	snap, err := sess.State(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	resp := toStateResponse(snap)
	resp.Process = processStats(ctx)
	return resp, nil
}

func (s *service) GetLatestResults(ctx context.Context, _ *emptypb.Empty) (*goprofv1.ResultsResponse, error) {
	sess, err := s.session()
	if err != nil {
		return nil, err
	}
	records, err := sess.LatestResults(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &goprofv1.ResultsResponse{}
	for _, r := range records {
		resp.Results = append(resp.Results, toResultRecord(r))
	}
	return resp, nil
}

// Ping answers without a session too, so controllers can probe an agent.
func (s *service) Ping(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.StringValue, error) {
	sess, err := s.agent.Session()
	if err != nil {
		return wrapperspb.String("pong"), nil
	}
	sess.Touch()
	if err := sess.Ping(ctx); err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.String("pong " + sess.ID()), nil
}

func (s *service) SetLabelTransition(ctx context.Context, req *wrapperspb.BoolValue) (*emptypb.Empty, error) {
	sess, err := s.session()
	if err != nil {
		return nil, err
	}
	return empty, toStatus(sess.SetLabelTransition(req.GetValue()))
}

func (s *service) SetMaxDuration(ctx context.Context, req *goprofv1.DurationRequest) (*emptypb.Empty, error) {
	sess, err := s.session()
	if err != nil {
		return nil, err
	}
	d, err := duration(req)
	if err != nil {
		return nil, err
	}
	return empty, toStatus(sess.SetMaxDuration(d))
}

func (s *service) SetStartWait(ctx context.Context, req *goprofv1.DurationRequest) (*emptypb.Empty, error) {
	sess, err := s.session()
	if err != nil {
		return nil, err
	}
	d, err := duration(req)
	if err != nil {
		return nil, err
	}
	return empty, toStatus(sess.SetStartWait(d))
}

func duration(req *goprofv1.DurationRequest) (time.Duration, error) {
	if req.GetMillis() < 0 {
		return 0, status.Error(codes.InvalidArgument, "duration must not be negative")
	}
	return time.Duration(req.GetMillis()) * time.Millisecond, nil
}

// Watch streams session notes. The stream counts as a controller link for
// as long as it is open.
func (s *service) Watch(_ *emptypb.Empty, stream goprofv1.Session_WatchServer) error {
	sess, err := s.session()
	if err != nil {
		return err
	}
	notes, cancel := sess.Subscribe()
	defer cancel()
	if err := sess.LinkUp(); err != nil {
		return toStatus(err)
	}
	defer sess.LinkDown(s.agent.cfg.DetachOnLinkLoss)

	ctx := stream.Context()
	snap, err := sess.State(ctx)
	if err != nil {
		return toStatus(err)
	}
	hello := &goprofv1.Event{
		Kind:     EventLinked,
		State:    string(snap.State),
		Mode:     string(snap.Mode),
		Message:  snap.ID,
		AtUnixMs: time.Now().UnixMilli(),
	}
	if err := stream.Send(hello); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			log.WithField("session", sess.ID()).Debug("controller stream closed")
			return nil
		case n, ok := <-notes:
			if !ok {
				return nil
			}
			if err := stream.Send(toEvent(n)); err != nil {
				return err
			}
		}
	}
}

func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, session.ErrTerminated):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, ErrAttached):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, ErrNotAttached),
		errors.Is(err, session.ErrWrongState),
		errors.Is(err, session.ErrAlreadyProfiling),
		errors.Is(err, session.ErrNotProfiling),
		errors.Is(err, session.ErrCodePending),
		errors.Is(err, session.ErrCodeMode),
		errors.Is(err, session.ErrNoTargets),
		errors.Is(err, session.ErrBackendDown),
		errors.Is(err, backend.ErrNoLiveFilter):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, coordinator.ErrBadLabel),
		errors.Is(err, backend.ErrUnknownBackend),
		errors.Is(err, backend.ErrBadSort),
		errors.Is(err, backend.ErrBadFilter),
		errors.Is(err, resolve.ErrSyntax):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
