package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	goprofv1 "goprof/api/goprof/v1"
	"goprof/instrument"
	"goprof/internal/backend"
	"goprof/internal/config"
	"goprof/internal/session"
)

func serve(t *testing.T, cfg config.Config) (*Agent, goprofv1.SessionClient) {
	t.Helper()
	a, _ := newTestAgent(t, cfg)
	path := filepath.Join(t.TempDir(), "agent.sock")
	require.NoError(t, a.Listen(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, conn, err := Dial(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return a, client
}

func requireCode(t *testing.T, err error, code codes.Code) {
	t.Helper()
	require.Error(t, err)
	st, ok := status.FromError(err)
	require.True(t, ok, "not a status error: %v", err)
	assert.Equal(t, code, st.Code(), st.Message())
}

func TestPingWithoutSession(t *testing.T) {
	_, client := serve(t, testConfig(t))
	resp, err := client.Ping(context.Background(), &emptypb.Empty{})
	require.NoError(t, err)
	assert.Equal(t, "pong", resp.GetValue())
}

func TestRequestsBeforeAttachFail(t *testing.T) {
	_, client := serve(t, testConfig(t))
	ctx := context.Background()

	_, err := client.Start(ctx, &emptypb.Empty{})
	requireCode(t, err, codes.FailedPrecondition)
	_, err = client.GetState(ctx, &emptypb.Empty{})
	requireCode(t, err, codes.FailedPrecondition)
	_, err = client.Detach(ctx, &emptypb.Empty{})
	requireCode(t, err, codes.FailedPrecondition)
}

func TestAttachErrorsMapToInvalidArgument(t *testing.T) {
	_, client := serve(t, testConfig(t))
	ctx := context.Background()

	_, err := client.Attach(ctx, &goprofv1.AttachRequest{Backend: "gpu"})
	requireCode(t, err, codes.InvalidArgument)
	_, err = client.Attach(ctx, &goprofv1.AttachRequest{Backend: "wall", Sort: "calls"})
	requireCode(t, err, codes.InvalidArgument)
	_, err = client.Attach(ctx, &goprofv1.AttachRequest{Targets: "[worker"})
	requireCode(t, err, codes.InvalidArgument)
}

func TestNormalProfilingOverRPC(t *testing.T) {
	_, client := serve(t, testConfig(t))
	ctx := context.Background()

	attached, err := client.Attach(ctx, &goprofv1.AttachRequest{Targets: "worker"})
	require.NoError(t, err)
	require.NotEmpty(t, attached.GetSessionId())

	_, err = client.Attach(ctx, &goprofv1.AttachRequest{Targets: "worker"})
	requireCode(t, err, codes.AlreadyExists)

	state, err := client.GetState(ctx, &emptypb.Empty{})
	require.NoError(t, err)
	assert.Equal(t, string(session.StateWaiting), state.GetState())
	assert.Equal(t, attached.GetSessionId(), state.SessionId)
	require.NotNil(t, state.Process)
	assert.Equal(t, int32(os.Getpid()), state.Process.Pid)
	assert.Positive(t, state.Process.Goroutines)

	_, err = client.Start(ctx, &emptypb.Empty{})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		st, err := client.GetState(ctx, &emptypb.Empty{})
		return err == nil && st.GetState() == string(session.StateProfiling)
	}, 2*time.Second, 10*time.Millisecond)

	state, err = client.GetState(ctx, &emptypb.Empty{})
	require.NoError(t, err)
	require.Len(t, state.Targets, 1)

	_, err = client.UpdateFilter(ctx, &goprofv1.FilterRequest{Module: "main", Function: "handle*"})
	require.NoError(t, err)
	_, err = client.UpdateFilter(ctx, &goprofv1.FilterRequest{Module: "[", Function: "*"})
	requireCode(t, err, codes.InvalidArgument)

	_, err = client.Analyze(ctx, &emptypb.Empty{})
	require.NoError(t, err)

	var recs []*goprofv1.ResultRecord
	require.Eventually(t, func() bool {
		resp, err := client.GetLatestResults(ctx, &emptypb.Empty{})
		if err != nil {
			return false
		}
		recs = append(recs, resp.GetResults()...)
		return len(recs) > 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "normal", recs[0].Kind)
	assert.Equal(t, string(backend.KindCPU), recs[0].Backend)
	assert.FileExists(t, recs[0].Path)

	pong, err := client.Ping(ctx, &emptypb.Empty{})
	require.NoError(t, err)
	assert.Equal(t, "pong "+attached.GetSessionId(), pong.GetValue())

	_, err = client.Detach(ctx, &emptypb.Empty{})
	require.NoError(t, err)
	assert.Nil(t, instrument.Installed())
}

func TestSettersOverRPC(t *testing.T) {
	_, client := serve(t, testConfig(t))
	ctx := context.Background()
	_, err := client.Attach(ctx, &goprofv1.AttachRequest{Targets: "worker"})
	require.NoError(t, err)

	_, err = client.SetMaxDuration(ctx, &goprofv1.DurationRequest{Millis: 2500})
	require.NoError(t, err)
	_, err = client.SetStartWait(ctx, &goprofv1.DurationRequest{Millis: -1})
	requireCode(t, err, codes.InvalidArgument)
	_, err = client.SetLabelTransition(ctx, wrapperspb.Bool(true))
	require.NoError(t, err)
	_, err = client.ArmCodeProfiling(ctx, &goprofv1.ArmRequest{Labels: []string{"Pay"}})
	require.NoError(t, err)
	_, err = client.ArmCodeProfiling(ctx, &goprofv1.ArmRequest{Labels: []string{"no spaces"}})
	requireCode(t, err, codes.InvalidArgument)

	require.Eventually(t, func() bool {
		st, err := client.GetState(ctx, &emptypb.Empty{})
		if err != nil {
			return false
		}
		c := st.GetCoordinator()
		return st.MaxDurationMs == 2500 && st.CodePending && c.Transition && c.Armed && len(c.Labels) == 1 && c.Labels[0] == "pay"
	}, 2*time.Second, 10*time.Millisecond)

	// normal profiling is refused while code profiling is pending
	_, err = client.Start(ctx, &emptypb.Empty{})
	require.NoError(t, err)
	st, err := client.GetState(ctx, &emptypb.Empty{})
	require.NoError(t, err)
	assert.Equal(t, string(session.StateWaiting), st.GetState())
}

func TestWatchStreamsEvents(t *testing.T) {
	_, client := serve(t, testConfig(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	attached, err := client.Attach(ctx, &goprofv1.AttachRequest{Targets: "worker"})
	require.NoError(t, err)

	stream, err := client.Watch(ctx, &emptypb.Empty{})
	require.NoError(t, err)
	hello, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, EventLinked, hello.Kind)
	assert.Equal(t, attached.GetSessionId(), hello.Message)
	assert.Equal(t, string(session.StateWaiting), hello.State)

	_, err = client.Start(ctx, &emptypb.Empty{})
	require.NoError(t, err)
	ev, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, string(session.NoteStateChanged), ev.Kind)
	assert.Equal(t, string(session.StateProfiling), ev.State)

	_, err = client.Start(ctx, &emptypb.Empty{})
	require.NoError(t, err)
	ev, err = stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, string(session.NoteRejected), ev.Kind)
	assert.Contains(t, ev.Message, session.ErrAlreadyProfiling.Error())

	_, err = client.Analyze(ctx, &emptypb.Empty{})
	require.NoError(t, err)
	for {
		ev, err = stream.Recv()
		require.NoError(t, err)
		if ev.Kind == string(session.NoteResultReady) {
			require.NotNil(t, ev.Result)
			assert.Equal(t, "normal", ev.Result.Kind)
			break
		}
	}
}

func TestLostStreamDetachesWhenConfigured(t *testing.T) {
	cfg := testConfig(t)
	cfg.DetachOnLinkLoss = true
	a, client := serve(t, cfg)
	_, err := client.Attach(context.Background(), &goprofv1.AttachRequest{Targets: "worker"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := client.Watch(ctx, &emptypb.Empty{})
	require.NoError(t, err)
	_, err = stream.Recv()
	require.NoError(t, err)
	cancel()

	require.Eventually(t, func() bool {
		_, err := a.Session()
		return errors.Is(err, ErrNotAttached)
	}, 2*time.Second, 10*time.Millisecond)
	assert.Nil(t, instrument.Installed())
}

func TestCloseRemovesSocket(t *testing.T) {
	a, _ := newTestAgent(t, testConfig(t))
	path := filepath.Join(t.TempDir(), "agent.sock")
	require.NoError(t, os.WriteFile(path, nil, 0o600), "stale file is replaced")
	require.NoError(t, a.Listen(path))
	require.NoError(t, a.Close(context.Background()))
	assert.NoFileExists(t, path)
}
