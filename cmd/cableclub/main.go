/*
cableclub is the process entry point: it starts the matchmaking/relay core
and the gift HTTP service in the same process, sharing nothing mutable
between them, and stops both cleanly on SIGINT.
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"cableclub/internal/eventloop"
	"cableclub/internal/gifts"
	"cableclub/internal/rules"
	"cableclub/internal/validate"
)

// Defaults mirror original_source/config.py exactly.
const (
	defaultHost     = "0.0.0.0"
	defaultPort     = 9999
	defaultAPIPort  = 8080
	defaultPBSDir   = "./PBS"
	defaultRulesDir = "./OnlinePresets"
	defaultLog      = "info"
)

var (
	host     string
	port     int
	pbsDir   string
	rulesDir string
	logLevel string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cableclub",
		Short: "Pokemon Cable Club matchmaking and gift server",
		RunE:  runServer,
	}
	root.PersistentFlags().StringVar(&host, "host", defaultHost, "The host IP address to run this server on. Should be 0.0.0.0 for Google Cloud.")
	root.PersistentFlags().IntVar(&port, "port", defaultPort, "The port the matchmaking server listens on.")
	root.PersistentFlags().StringVar(&pbsDir, "pbs_dir", defaultPBSDir, "The path, relative to the working directory, where the PBS files are located.")
	root.PersistentFlags().StringVar(&rulesDir, "rules_dir", defaultRulesDir, "The path, relative to the working directory, where the rules files are located.")
	root.PersistentFlags().StringVar(&logLevel, "log", defaultLog, "The log level of the server. Logging messages lower than the level are not written.")

	root.AddCommand(dumpRulesCmd())
	return root
}

// dumpRulesCmd is a debug-only subcommand (SPEC_FULL §11): it loads the
// rules directory once and writes the in-memory rule set to stdout as
// YAML, without ever touching the wire encoding used at pairing time.
func dumpRulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump-rules",
		Short: "Load the rules directory and print it as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			stamps, err := rules.Snapshot(rulesDir)
			if err != nil {
				return errors.Wrap(err, "snapshot rules directory")
			}
			set, err := rules.Load(rulesDir, stamps)
			if err != nil {
				return errors.Wrap(err, "load rules directory")
			}
			out, err := set.DumpYAML()
			if err != nil {
				return errors.Wrap(err, "marshal rule set")
			}
			_, err = os.Stdout.Write(out)
			return err
		},
	}
}

func newLogger(level string) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, errors.Errorf("invalid log level: %s", level)
	}
	log := logrus.New()
	log.SetLevel(lvl)
	return log, nil
}

func runServer(cmd *cobra.Command, args []string) error {
	log, err := newLogger(logLevel)
	if err != nil {
		return err
	}
	log.Info("---------------")

	registry := prometheus.NewRegistry()

	coreMetrics := eventloop.NewMetrics()
	coreMetrics.Register(registry)

	loop, err := eventloop.New(eventloop.Config{
		PBSDir:   pbsDir,
		RulesDir: rulesDir,
		Flags:    validate.Flags{},
	}, log, coreMetrics)
	if err != nil {
		return errors.Wrap(err, "initialize matchmaking core")
	}

	giftMetrics := gifts.NewMetrics()
	giftMetrics.Register(registry)
	giftManager, err := gifts.NewManager(rulesDir+"/../Gifts", log)
	if err != nil {
		return errors.Wrap(err, "initialize gift service")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, unix.SIGINT)
	go func() {
		<-sig
		log.Info("interrupt received, shutting down server...")
		cancel()
	}()

	giftSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, defaultAPIPort),
		Handler: gifts.Handler(giftManager, giftMetrics, log, registry),
	}
	go func() {
		if err := giftSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("gift service stopped")
		}
	}()
	go func() {
		<-ctx.Done()
		_ = giftSrv.Close()
	}()

	if err := loop.Run(ctx, host, port); err != nil {
		return errors.Wrap(err, "matchmaking core stopped")
	}
	return nil
}
