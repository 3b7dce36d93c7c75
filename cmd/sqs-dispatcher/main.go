package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/roadrunner-server/endure/v2"
	sqs "github.com/roadrunner-server/sqs-dispatcher"
	"github.com/roadrunner-server/sqs-dispatcher/internal/config"
	"github.com/roadrunner-server/sqs-dispatcher/internal/logger"
)

var version = "0.1.0-dev"

const stopTimeout = 30 * time.Second

type overrides []string

func (o *overrides) String() string {
	return strings.Join(*o, ",")
}

func (o *overrides) Set(v string) error {
	*o = append(*o, v)
	return nil
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("sqs-dispatcher", flag.ContinueOnError)
	path := fs.String("c", "sqs.yaml", "path to the configuration file")
	showVersion := fs.Bool("version", false, "print version and exit")
	var ov overrides
	fs.Var(&ov, "o", "override a configuration key, e.g. -o sqs.queue.drive_mode=loop (repeatable)")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *showVersion {
		fmt.Println("sqs-dispatcher", version)
		return 0
	}

	cont := endure.New(slog.LevelError)

	sp := &sqs.Plugin{}
	err := cont.RegisterAll(
		&config.Plugin{Path: *path, Overrides: ov},
		&logger.Plugin{},
		&LogJob{},
		sp,
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if err = cont.Init(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if !sp.Enabled() {
		fmt.Fprintf(os.Stderr, "sqs plugin is disabled: no sqs section in %s\n", *path)
		return 1
	}

	errCh, err := cont.Serve()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	code := 0
	select {
	case e := <-errCh:
		fmt.Fprintf(os.Stderr, "%s: %v\n", e.VertexID, e.Error)
		code = 1
	case <-sig:
	case <-sp.Done():
	}

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- cont.Stop()
	}()

	select {
	case err = <-done:
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			code = 1
		}
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "timed out waiting for plugins to stop")
		code = 1
	}

	return code
}
