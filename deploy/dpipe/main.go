// Package main offline DPI pipeline: reads a capture, classifies and
// filters flows, writes the surviving packets to a second capture.
package main

import (
	"fmt"
	"os"
	"runtime"
	"strconv"

	"github.com/forest33/dpipe/adapter/rules"
	"github.com/forest33/dpipe/business/entity"
	"github.com/forest33/dpipe/business/usecase"
	"github.com/forest33/dpipe/pkg/automaxprocs"
	"github.com/forest33/dpipe/pkg/config"
	"github.com/forest33/dpipe/pkg/logger"
	"github.com/forest33/dpipe/pkg/metrics"
)

func main() {
	os.Exit(run())
}

func run() int {
	cl := parseCommandLine()

	cfg := &entity.Config{}
	if _, err := config.Load(cl.configFile, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}
	cl.apply(cfg)

	zlog := logger.New(logger.Config{
		Level:           cfg.Logger.Level,
		TimeFieldFormat: cfg.Logger.TimeFieldFormat,
		PrettyPrint:     *cfg.Logger.PrettyPrint,
		ErrorStack:      *cfg.Logger.ErrorStack,
		ShowCaller:      *cfg.Logger.ShowCaller,
		FileName:        cfg.Logger.FileName,
	})

	if cfg.Runtime.GoMaxProcs != 0 {
		runtime.GOMAXPROCS(cfg.Runtime.GoMaxProcs)
	} else {
		automaxprocs.Init(zlog)
	}

	ruleStore := rules.New(zlog)
	applyRuleFlags(cl, ruleStore)

	if cfg.Rules.File != "" {
		if err := ruleStore.Load(cfg.Rules.File); err != nil {
			zlog.Error().Err(err).Str("path", cfg.Rules.File).Msg("failed to load rules file")
		}
		if *cfg.Rules.Watch {
			stop, err := ruleStore.Watch(cfg.Rules.File)
			if err != nil {
				zlog.Error().Err(err).Msg("failed to watch rules file")
			} else {
				defer stop()
			}
		}
	}

	if cl.saveRules != "" {
		if err := ruleStore.Save(cl.saveRules); err != nil {
			zlog.Error().Err(err).Msg("failed to save rules")
		}
	}

	var collector *metrics.Collector
	if cfg.Metrics.Listen != "" {
		collector = metrics.New()
		metrics.Serve(cfg.Metrics.Listen, zlog)
	}

	engine, err := usecase.NewEngine(cfg, zlog, ruleStore, collector)
	if err != nil {
		zlog.Error().Err(err).Msg("failed to build pipeline")
		return 1
	}

	if err := engine.ProcessFile(cl.inputFile, cl.outputFile); err != nil {
		zlog.Error().Err(err).Msg("capture processing failed")
		return 1
	}

	fmt.Println(engine.GenerateReport())

	// The verdicts were decided even if writes failed; the exit code
	// still has to reflect whether anything made it to disk.
	s := engine.Stats().Snapshot()
	if s.ForwardedPackets > 0 && s.WriteSuccesses == 0 {
		zlog.Error().Msg("no packet was written to the output capture")
		return 1
	}

	return 0
}

// applyRuleFlags feeds the --block-* flags into the store. A bad value
// prints a diagnostic and the run continues.
func applyRuleFlags(cl *commandLine, store *rules.Store) {
	for _, ip := range cl.blockIPs {
		if err := store.BlockIPString(ip); err != nil {
			fmt.Fprintf(os.Stderr, "bad --block-ip %q: %v\n", ip, err)
		}
	}
	for _, app := range cl.blockApps {
		if err := store.BlockAppName(app); err != nil {
			fmt.Fprintf(os.Stderr, "bad --block-app %q: %v\n", app, err)
		}
	}
	for _, d := range cl.blockDomains {
		store.BlockDomain(d)
	}
	for _, p := range cl.blockPorts {
		port, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			fmt.Fprintf(os.Stderr, "bad --block-port %q: %v\n", p, err)
			continue
		}
		store.BlockPort(uint16(port))
	}
}
