package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	sprintfLogging "github.com/core-tools/hsu-core/pkg/logging/sprintf"

	coreControl "github.com/core-tools/hsu-core/pkg/control"
	coreDomain "github.com/core-tools/hsu-core/pkg/domain"
	coreLogging "github.com/core-tools/hsu-core/pkg/logging"

	"github.com/core-tools/hsu-satellite/pkg/control"
	"github.com/core-tools/hsu-satellite/pkg/domain"
	"github.com/core-tools/hsu-satellite/pkg/logging"
	"github.com/core-tools/hsu-satellite/pkg/processfile"

	"github.com/dustin/go-humanize"
	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	AttachPort int    `long:"port" description:"control port of the satellite server, read from the port file if omitted"`
	RuntimeDir string `long:"runtime-dir" description:"directory holding the satellite PID and port files"`
	Status     string `long:"status" description:"print the status of a unit"`
	Restart    string `long:"restart" description:"restart a unit"`
	Aggregate  bool   `long:"aggregate" description:"print the aggregate status"`
	Ready      bool   `long:"ready" description:"check readiness through the gRPC health service"`
}

func logPrefix(module string) string {
	return fmt.Sprintf("module: %s-client , ", module)
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v", err)
		os.Exit(1)
	}

	logger := sprintfLogging.NewStdSprintfLogger()

	logger.Infof("opts: %+v", opts)

	satelliteLogger := logging.NewLogger(
		logPrefix("hsu-satellite"), logging.LogFuncs{
			Debugf: logger.Debugf,
			Infof:  logger.Infof,
			Warnf:  logger.Warnf,
			Errorf: logger.Errorf,
		})

	if opts.AttachPort == 0 {
		runtimeFiles := processfile.NewProcessFileManager(processfile.ProcessFileConfig{
			BaseDirectory: opts.RuntimeDir,
		}, satelliteLogger)
		opts.AttachPort, err = runtimeFiles.ReadPortFile()
		if err != nil {
			fmt.Printf("Attach port is required, port file is unavailable: %v\n", err)
			os.Exit(1)
		}
		logger.Infof("Using control port from %s: %d", runtimeFiles.PortFilePath(), opts.AttachPort)
	}

	coreLogger := coreLogging.NewLogger(
		logPrefix("hsu-core"), coreLogging.LogFuncs{
			Debugf: logger.Debugf,
			Infof:  logger.Infof,
			Warnf:  logger.Warnf,
			Errorf: logger.Errorf,
		})

	coreConnectionOptions := coreControl.ConnectionOptions{
		AttachPort: opts.AttachPort,
	}
	coreConnection, err := coreControl.NewConnection(coreConnectionOptions, coreLogger)
	if err != nil {
		logger.Errorf("Failed to create core connection: %v", err)
		os.Exit(1)
	}

	coreClientGateway := coreControl.NewGRPCClientGateway(coreConnection.GRPC(), coreLogger)
	satelliteClientGateway := control.NewGRPCClientGateway(coreConnection.GRPC(), satelliteLogger)

	ctx := context.Background()

	retryPingOptions := coreDomain.RetryPingOptions{
		RetryAttempts: 10,
		RetryInterval: 1 * time.Second,
	}
	err = coreDomain.RetryPing(ctx, coreClientGateway, retryPingOptions, coreLogger)
	if err != nil {
		logger.Errorf("Failed to ping satellite server: %v", err)
		os.Exit(1)
	}

	if opts.Restart != "" {
		report, err := satelliteClientGateway.Restart(ctx, domain.UnitID(opts.Restart))
		if err != nil {
			logger.Errorf("Failed to restart unit %s: %v", opts.Restart, err)
			os.Exit(1)
		}
		printReport(report)
	}

	if opts.Status != "" {
		report, err := satelliteClientGateway.Status(ctx, domain.UnitID(opts.Status))
		if err != nil {
			logger.Errorf("Failed to get status of unit %s: %v", opts.Status, err)
			os.Exit(1)
		}
		printReport(report)
	}

	if opts.Aggregate {
		aggregate, err := satelliteClientGateway.Aggregate(ctx)
		if err != nil {
			logger.Errorf("Failed to get aggregate status: %v", err)
			os.Exit(1)
		}
		printAggregate(aggregate)
	}

	if opts.Ready {
		ready, err := satelliteClientGateway.Ready(ctx, "")
		if err != nil {
			logger.Errorf("Failed to check readiness: %v", err)
			os.Exit(1)
		}
		fmt.Printf("ready: %t\n", ready)
		if !ready {
			os.Exit(2)
		}
	}

	logger.Infof("Done")
}

func printReport(report domain.StatusReport) {
	fmt.Printf("%-20s running: %-5t healthy: %-5t %s\n", report.Name, report.Running, report.Healthy, describeUptime(report))
}

func printAggregate(aggregate domain.AggregateStatus) {
	health := aggregate.Health
	fmt.Printf("status: %s, ready: %d/%d, started %s\n",
		health.Status, health.ComponentsReady, health.TotalComponents, humanize.Time(health.StartupTime))

	ids := make([]string, 0, len(aggregate.Units))
	for id := range aggregate.Units {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	for _, id := range ids {
		printReport(aggregate.Units[domain.UnitID(id)])
	}
}

func describeUptime(report domain.StatusReport) string {
	if report.StartedAt == nil {
		return "not started"
	}
	return "started " + humanize.Time(*report.StartedAt)
}
