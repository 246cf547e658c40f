package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/forest33/dpipe/business/entity"
)

// stringList collects a repeatable flag.
type stringList []string

func (l *stringList) String() string {
	return fmt.Sprintf("%v", []string(*l))
}

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

type commandLine struct {
	inputFile  string
	outputFile string

	blockIPs     stringList
	blockApps    stringList
	blockDomains stringList
	blockPorts   stringList

	rulesFile  string
	saveRules  string
	watchRules bool

	lbs            int
	fps            int
	queueSize      int
	maxConnections int

	configFile    string
	metricsListen string
	verbose       bool
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: %s <input.pcap> <output.pcap> [options]

Options:
  --block-ip <ip>          add a blocked source IP (dotted quad)
  --block-app <name>       add a blocked application by label
  --block-domain <d>       add a blocked domain; '*' enables wildcard
  --block-port <port>      add a blocked destination port
  --rules <file>           load rules from a file
  --save-rules <file>      save the effective rules to a file
  --watch-rules            reload the rules file when it changes
  --lbs <n>                number of load balancer threads (default %d)
  --fps <n>                fast-path threads per LB (default %d)
  --queue-size <n>         queue capacity between stages (default %d)
  --max-connections <n>    flow table size per fast path (default %d)
  --config <file>          YAML configuration file
  --metrics-listen <addr>  serve Prometheus metrics on addr while running
  --verbose                verbose logging
  --help | -h              this text

A gzip-compressed input capture (*.pcap.gz) is decompressed on the fly.
`, os.Args[0], entity.DefaultLoadBalancers, entity.DefaultFastPathsPerLB,
		entity.DefaultQueueCapacity, entity.DefaultMaxConnections)
}

// parseCommandLine handles the two positional capture paths followed
// by options. Exits with code 1 on a usage error.
func parseCommandLine() *commandLine {
	args := os.Args[1:]

	for _, a := range args {
		if a == "-h" || a == "--help" {
			usage()
			os.Exit(0)
		}
	}

	if len(args) < 2 {
		usage()
		os.Exit(1)
	}

	cl := &commandLine{
		inputFile:  args[0],
		outputFile: args[1],
	}

	fs := flag.NewFlagSet("dpipe", flag.ContinueOnError)
	fs.Usage = usage
	fs.SetOutput(os.Stderr)
	fs.Var(&cl.blockIPs, "block-ip", "blocked source IP")
	fs.Var(&cl.blockApps, "block-app", "blocked application label")
	fs.Var(&cl.blockDomains, "block-domain", "blocked domain or wildcard")
	fs.Var(&cl.blockPorts, "block-port", "blocked destination port")
	fs.StringVar(&cl.rulesFile, "rules", "", "rules file to load")
	fs.StringVar(&cl.saveRules, "save-rules", "", "write effective rules to file")
	fs.BoolVar(&cl.watchRules, "watch-rules", false, "reload the rules file on change")
	fs.IntVar(&cl.lbs, "lbs", 0, "load balancer threads")
	fs.IntVar(&cl.fps, "fps", 0, "fast-path threads per LB")
	fs.IntVar(&cl.queueSize, "queue-size", 0, "queue capacity")
	fs.IntVar(&cl.maxConnections, "max-connections", 0, "flow table size per fast path")
	fs.StringVar(&cl.configFile, "config", "", "YAML configuration file")
	fs.StringVar(&cl.metricsListen, "metrics-listen", "", "Prometheus listen address")
	fs.BoolVar(&cl.verbose, "verbose", false, "verbose logging")

	if err := fs.Parse(args[2:]); err != nil {
		os.Exit(1)
	}

	return cl
}

// apply overlays command line values onto the loaded configuration.
func (cl *commandLine) apply(cfg *entity.Config) {
	if cl.lbs > 0 {
		cfg.Pipeline.LoadBalancers = cl.lbs
	}
	if cl.fps > 0 {
		cfg.Pipeline.FastPathsPerLB = cl.fps
	}
	if cl.queueSize > 0 {
		cfg.Pipeline.QueueCapacity = cl.queueSize
	}
	if cl.maxConnections > 0 {
		cfg.Pipeline.MaxConnections = cl.maxConnections
	}
	if cl.rulesFile != "" {
		cfg.Rules.File = cl.rulesFile
	}
	if cl.watchRules {
		watch := true
		cfg.Rules.Watch = &watch
	}
	if cl.metricsListen != "" {
		cfg.Metrics.Listen = cl.metricsListen
	}
	if cl.verbose {
		cfg.Logger.Level = "debug"
		cfg.Tracing.Packets = true
		cfg.Tracing.Verdicts = true
	}
}
