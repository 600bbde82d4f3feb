package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	goprofv1 "goprof/api/goprof/v1"
	"goprof/internal/agent"
)

var (
	resolveSocket   = agent.ResolveSocket
	agentIsRunning  = socketExists
	dialAgentClient = func(ctx context.Context, socket string) (goprofv1.SessionClient, io.Closer, error) {
		client, conn, err := agent.Dial(ctx, socket)
		if err != nil {
			return nil, nil, err
		}
		return client, conn, nil
	}
)

func resetAgentDeps() {
	resolveSocket = agent.ResolveSocket
	agentIsRunning = socketExists
	dialAgentClient = func(ctx context.Context, socket string) (goprofv1.SessionClient, io.Closer, error) {
		client, conn, err := agent.Dial(ctx, socket)
		if err != nil {
			return nil, nil, err
		}
		return client, conn, nil
	}
}

func socketExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode()&os.ModeSocket != 0
}

func (a *App) socket(call Call) (string, error) {
	target := call.Target
	if target == "" {
		target = a.target
	}
	socket, err := resolveSocket(target)
	if err != nil {
		return "", err
	}
	if !agentIsRunning(socket) {
		return "", fmt.Errorf("no agent listening at %s", socket)
	}
	return socket, nil
}

func (a *App) withClient(ctx context.Context, call Call, fn func(context.Context, goprofv1.SessionClient) error) error {
	if call.Timeout <= 0 {
		return errors.New("timeout must be greater than 0")
	}
	socket, err := a.socket(call)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, call.Timeout)
	defer cancel()

	client, conn, err := dialAgentClient(ctx, socket)
	if err != nil {
		return fmt.Errorf("connect to agent: %w", err)
	}
	if conn != nil {
		defer conn.Close()
	}

	return fn(ctx, client)
}
