package main

import (
	"context"
	"crypto/sha256"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"goprof/agent"
	"goprof/instrument"
)

func main() {
	configPath := flag.String("config", "", "Path to JSON or YAML agent config")
	socket := flag.String("socket", "", "Socket path (default per-pid socket in the runtime dir)")
	workers := flag.Int("workers", 3, "Number of workers in group \"workers\"")
	flag.Parse()

	a, err := agent.Start(agent.Options{ConfigPath: *configPath, Socket: *socket})
	if err != nil {
		log.Fatalf("failed to start agent: %v", err)
	}
	reg := a.Registry()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := reg.Spawn(ctx, agent.SpawnOptions{Name: "ticker", Restart: true}, ticker); err != nil {
		log.Fatalf("spawn ticker: %v", err)
	}
	for i := 0; i < *workers; i++ {
		opts := agent.SpawnOptions{Groups: []string{"workers"}, Tags: []string{fmt.Sprintf("worker-%d", i)}}
		if _, err := reg.Spawn(ctx, opts, worker); err != nil {
			log.Fatalf("spawn worker: %v", err)
		}
	}
	if err := reg.RegisterPool("http", "http.acceptors"); err != nil {
		log.Fatalf("register pool: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := reg.Spawn(ctx, agent.SpawnOptions{Groups: []string{"http.acceptors"}}, acceptor); err != nil {
			log.Fatalf("spawn acceptor: %v", err)
		}
	}

	log.Infof("target running (pid %d), agent socket %s. Press Ctrl+C to stop.", os.Getpid(), a.Socket())
	<-ctx.Done()

	log.Info("stopping target...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Close(shutdownCtx); err != nil {
		log.Errorf("agent shutdown: %v", err)
	}
	if err := reg.Shutdown(shutdownCtx); err != nil {
		log.Errorf("task shutdown: %v", err)
	}
}

func ticker(ctx context.Context) {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			log.Debug("tick")
		}
	}
}

// worker alternates between two labelled regions.
func worker(ctx context.Context) {
	labels := []string{"checkout", "refund"}
	for i := 0; ctx.Err() == nil; i++ {
		label := labels[i%len(labels)]
		_ = instrument.Do(ctx, func(ctx context.Context) error {
			hash(ctx, 20000)
			return nil
		}, instrument.WithLabel(label))
		time.Sleep(50 * time.Millisecond)
	}
}

func acceptor(ctx context.Context) {
	for ctx.Err() == nil {
		sum, err := instrument.Pipe(ctx, []byte("request"), func(ctx context.Context, b []byte) ([32]byte, error) {
			hash(ctx, 5000)
			return sha256.Sum256(b), nil
		}, instrument.WithLabel("accept"))
		if err != nil {
			log.WithError(err).Warn("accept failed")
		}
		_ = sum
		time.Sleep(20 * time.Millisecond)
	}
}

// hash burns CPU until done or the session releases the region.
func hash(ctx context.Context, rounds int) {
	released := instrument.Released(ctx)
	buf := []byte("goprof")
	for i := 0; i < rounds; i++ {
		if i%1000 == 0 {
			select {
			case <-released:
				return
			default:
			}
		}
		s := sha256.Sum256(buf)
		buf = s[:]
	}
}
