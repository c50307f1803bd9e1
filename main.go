package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"seedmesh/commands"
	"seedmesh/config"
	"syscall"

	log "github.com/sirupsen/logrus"
)

func setLogLevel(level string) {
	l, err := log.ParseLevel(level)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	log.SetLevel(l)
}

func registerGlobalFlags(fset *flag.FlagSet) {
	flag.VisitAll(func(f *flag.Flag) {
		fset.Var(f.Value, f.Name, f.Usage)
	})
}

func checkConfig(cfg string) {
	if cfg == "" {
		log.Fatal("Config file not specified")
	}
}

func loadConfig(configFile string) *config.Config {
	cfg, err := config.NewConfigFromFile(configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

// main is the entry point of the application.
func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	configFile := flag.String("config", "", "Path to config file")
	logLevel := flag.String("loglevel", "info", "Log level")

	initCmd := flag.NewFlagSet("init", flag.ExitOnError)
	registerGlobalFlags(initCmd)

	seedCmd := flag.NewFlagSet("seed", flag.ExitOnError)
	registerGlobalFlags(seedCmd)

	peerCmd := flag.NewFlagSet("peer", flag.ExitOnError)
	peerSeeds := peerCmd.String("seeds", "", "Path to the seed list, overrides the config")
	registerGlobalFlags(peerCmd)

	infoCmd := flag.NewFlagSet("info", flag.ExitOnError)
	infoSeeds := infoCmd.String("seeds", "", "Path to the seed list, overrides the config")
	registerGlobalFlags(infoCmd)

	if len(os.Args) < 2 {
		log.WithField("args", os.Args).Fatal("Expected a subcommand")
	}
	cmd, args := os.Args[1], os.Args[2:]

	switch cmd {
	case "init":
		initCmd.Parse(args)
		checkConfig(*configFile)
		setLogLevel(*logLevel)
		cfg := config.NewEmptyConfig(*configFile)
		commands.RunInit(ctx, cfg)
	case "seed":
		seedCmd.Parse(args)
		checkConfig(*configFile)
		setLogLevel(*logLevel)
		commands.RunSeed(ctx, loadConfig(*configFile))
	case "peer":
		peerCmd.Parse(args)
		checkConfig(*configFile)
		setLogLevel(*logLevel)
		cfg := loadConfig(*configFile)
		if *peerSeeds != "" {
			cfg.Node.SeedList = *peerSeeds
		}
		commands.RunPeer(ctx, cfg)
	case "info":
		infoCmd.Parse(args)
		checkConfig(*configFile)
		setLogLevel(*logLevel)
		cfg := loadConfig(*configFile)
		if *infoSeeds != "" {
			cfg.Node.SeedList = *infoSeeds
		}
		commands.RunInfo(ctx, cfg)
	default:
		log.Fatalf("Invalid subcommand '%s'", os.Args[1])
	}
}
