package main

import (
	"flag"

	log "github.com/sirupsen/logrus"

	"goprof/internal/app"
	"goprof/internal/tui"
)

func main() {
	target := flag.String("target", "", "Agent pid or socket selected on start")
	spec := flag.String("targets", "", "Target specification used when attaching")
	backend := flag.String("backend", "", "Backend used when attaching")
	flag.Parse()

	controller := app.New(app.Options{Target: *target})
	if err := tui.Run(controller, tui.Options{Spec: *spec, Backend: *backend}); err != nil {
		log.Fatalf("tui exited with error: %v", err)
	}
}
