// The keelstore command is the administrative console: an interactive
// prompt dispatching icheck and jscan tasks against the configured engine,
// with the metrics exporter running alongside.
//
// Commands:
//
//	icheck trees=<selector> [r|u|h|p|P|v|c]
//	jscan path=<prefix> [start=<addr>] [end=<addr>] [types=*|<list>]
//	      [pages=*|<ranges>] [timestamps=*|<ranges>] [maxkey=<n>] [maxvalue=<n>] [v]
//	trees
//	alerts
//	quit
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/kballard/go-shellquote"

	"keelstore/bootstrap"
	"keelstore/pkg/logging"
	"keelstore/pkg/task"
	"keelstore/pkg/verify"
)

type holeLogger struct{}

func (holeLogger) Offer(hole verify.IndexHole) bool {
	logging.Info("index hole enqueued for repair",
		"tree", hole.TreeHandle, "page", hole.Page, "level", hole.Level)
	return true
}

func main() {
	app, err := bootstrap.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	go func() {
		if err := app.Exporter.Serve(app.Config.MetricsAddr); err != nil {
			logging.Warn("metrics exporter stopped", "error", err)
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("keelstore admin console; 'help' lists commands")
	for {
		fmt.Print("keelstore> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		tokens, err := shellquote.Split(line)
		if err != nil {
			fmt.Printf("parse error: %v\n", err)
			continue
		}
		if done := dispatch(app, tokens); done {
			return
		}
	}
}

func dispatch(app *bootstrap.App, tokens []string) bool {
	command, args := tokens[0], tokens[1:]
	switch command {
	case "quit", "exit":
		return true

	case "help":
		fmt.Println("commands: icheck, jscan, trees, alerts, quit")

	case "icheck":
		t, err := task.NewIntegrityCheckTask(app.Engine, holeLogger{}, args, os.Stdout)
		if err != nil {
			fmt.Printf("icheck: %v\n", err)
			return false
		}
		if err := t.Run(); err != nil {
			fmt.Printf("icheck failed: %v\n", err)
			return false
		}
		app.Exporter.RecordCheck(t.Check())

	case "jscan":
		t, err := task.NewJournalScanTask(args, os.Stdout)
		if err != nil {
			fmt.Printf("jscan: %v\n", err)
			return false
		}
		if err := t.Run(); err != nil {
			fmt.Printf("jscan failed: %v\n", err)
		}

	case "trees":
		for _, tr := range app.Engine.Trees() {
			fmt.Printf("%s root=%d depth=%d handle=%d\n", tr.Name, tr.Root, tr.Depth, tr.Handle)
		}

	case "alerts":
		summary := app.Engine.Alerts().Summary()
		if summary == "" {
			fmt.Println("no alerts")
		} else {
			fmt.Print(summary)
		}

	default:
		fmt.Printf("unknown command %q\n", command)
	}
	return false
}
