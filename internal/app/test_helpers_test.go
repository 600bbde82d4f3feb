package app

import (
	"context"
	"errors"
	"io"
	"testing"

	"google.golang.org/grpc"

	goprofv1 "goprof/api/goprof/v1"
)

type fakeConn struct {
	invoke func(ctx context.Context, method string, args interface{}, reply interface{}, opts ...grpc.CallOption) error
}

func (f *fakeConn) Invoke(ctx context.Context, method string, args interface{}, reply interface{}, opts ...grpc.CallOption) error {
	if f.invoke != nil {
		return f.invoke(ctx, method, args, reply, opts...)
	}
	return nil
}

func (f *fakeConn) NewStream(ctx context.Context, desc *grpc.StreamDesc, method string, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeConn) Close() error { return nil }

func stubAgent(t *testing.T, running bool, dial func(context.Context, string) (goprofv1.SessionClient, io.Closer, error)) {
	t.Helper()
	resetAgentDeps()
	resolveSocket = func(target string) (string, error) {
		if target == "" {
			return "", errors.New("target pid or socket path is required")
		}
		return "/run/goprof-" + target + ".sock", nil
	}
	agentIsRunning = func(string) bool { return running }
	if dial == nil {
		dial = func(context.Context, string) (goprofv1.SessionClient, io.Closer, error) {
			return nil, nil, errors.New("dial not stubbed")
		}
	}
	dialAgentClient = dial
	t.Cleanup(resetAgentDeps)
}

// stubRPC serves every call through handle.
func stubRPC(t *testing.T, handle func(method string, args, reply interface{}) error) {
	t.Helper()
	stubAgent(t, true, func(context.Context, string) (goprofv1.SessionClient, io.Closer, error) {
		conn := &fakeConn{
			invoke: func(ctx context.Context, method string, args interface{}, reply interface{}, opts ...grpc.CallOption) error {
				return handle(method, args, reply)
			},
		}
		return goprofv1.NewSessionClient(conn), conn, nil
	})
}
