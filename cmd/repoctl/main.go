package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/suparena/entityrepo"
	"github.com/suparena/entityrepo/config"
	"github.com/suparena/entityrepo/metrics"
)

var (
	versionFlag = flag.Bool("version", false, "Show version information")
	vFlag       = flag.Bool("v", false, "Show version information (short)")
	configFlag  = flag.String("config", "", "Path to a YAML settings file")
	envFlag     = flag.String("env", ".env", "Path to a .env file loaded before the environment is read")
	timeoutFlag = flag.Duration("timeout", time.Minute, "Overall timeout of the command")
	metricsFlag = flag.Bool("metrics", false, "Print the collected metrics after the command")
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <command>\n\nCommands:\n", os.Args[0])
	fmt.Fprintf(flag.CommandLine.Output(), "  ping    connect to the configured backend and ping it\n")
	fmt.Fprintf(flag.CommandLine.Output(), "  probe   insert, read and trash a probe entity in one transaction each\n\nFlags:\n")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *versionFlag || *vFlag {
		info := entityrepo.GetVersionInfo()
		fmt.Printf("entityrepo repoctl version %s\n", info.Version)
		fmt.Printf("Git commit: %s\n", info.GitCommit)
		fmt.Printf("Build date: %s\n", info.BuildDate)
		fmt.Printf("Go version: %s\n", info.GoVersion)
		os.Exit(0)
	}

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	settings, err := config.Load(*configFlag, *envFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	logger := settings.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeoutFlag)
	defer cancel()

	promRegistry := prometheus.NewRegistry()
	m := metrics.New(promRegistry)

	switch cmd := flag.Arg(0); cmd {
	case "ping":
		err = ping(ctx, settings)
	case "probe":
		err = probe(ctx, settings, m, os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		flag.Usage()
		os.Exit(2)
	}

	if *metricsFlag {
		printMetrics(promRegistry)
	}
	if err != nil {
		logger.Error("command failed", "command", flag.Arg(0), "backend", settings.Backend, "error", err)
		os.Exit(1)
	}
}

func ping(ctx context.Context, s config.Settings) error {
	start := time.Now()
	driver, err := entityrepo.OpenDriver(ctx, s)
	if err != nil {
		return err
	}
	defer driver.Close(context.WithoutCancel(ctx))

	if err := driver.Ping(ctx); err != nil {
		return err
	}
	fmt.Printf("%s: ok (%s)\n", driver.Name(), time.Since(start).Round(time.Millisecond))
	return nil
}

func printMetrics(reg *prometheus.Registry) {
	families, err := reg.Gather()
	if err != nil {
		fmt.Fprintf(os.Stderr, "gather metrics: %v\n", err)
		return
	}
	for _, mf := range families {
		fmt.Printf("%s: %d series\n", mf.GetName(), len(mf.GetMetric()))
	}
}
