package main

import (
	"fmt"
	"os"

	coreLogging "github.com/core-tools/hsu-core/pkg/logging"

	"github.com/core-tools/hsu-satellite/pkg/logging"
	"github.com/core-tools/hsu-satellite/pkg/orchestrator"

	"github.com/gin-gonic/gin"
	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	Config      string `long:"config" description:"path to the satellite YAML configuration file"`
	RunDuration int    `long:"run-duration" description:"stop after the given number of seconds, 0 runs until signalled"`
	Validate    bool   `long:"validate" description:"validate the configuration file and exit"`
}

func logPrefix(module string) string {
	return fmt.Sprintf("module: %s-server , ", module)
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

	if opts.Validate {
		if opts.Config == "" {
			fmt.Println("Config file is required for validation")
			os.Exit(1)
		}
		if err := orchestrator.ValidateConfigFile(opts.Config); err != nil {
			fmt.Printf("Configuration is invalid: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Configuration is valid: %s\n", opts.Config)
		return
	}

	config := orchestrator.DefaultConfig()
	if opts.Config != "" {
		config, err = orchestrator.LoadConfigFromFile(opts.Config)
		if err != nil {
			fmt.Printf("Failed to load configuration: %v\n", err)
			os.Exit(1)
		}
	}

	logger, err := logging.NewZapLogger(config.Logging)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Infof("opts: %+v", opts)

	gin.SetMode(gin.ReleaseMode)

	coreLogger := coreLogging.NewLogger(
		logPrefix("hsu-core"), coreLogging.LogFuncs{
			Debugf: logger.Debugf,
			Infof:  logger.Infof,
			Warnf:  logger.Warnf,
			Errorf: logger.Errorf,
		})
	satelliteLogger := logging.NewLogger(
		logPrefix("hsu-satellite"), logging.LogFuncs{
			Debugf: logger.Debugf,
			Infof:  logger.Infof,
			Warnf:  logger.Warnf,
			Errorf: logger.Errorf,
		})

	runOptions := orchestrator.RunOptions{
		RunDuration: opts.RunDuration,
	}
	if err := orchestrator.Run(runOptions, config, coreLogger, satelliteLogger); err != nil {
		satelliteLogger.Errorf("Satellite run failed: %v", err)
		logger.Sync()
		os.Exit(1)
	}
}
