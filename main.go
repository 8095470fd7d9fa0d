package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"contract-lab/api"
	"contract-lab/hashing"
	"contract-lab/registry"
	"contract-lab/service"
)

type Config struct {
	StorageDir string
	OwnerName  string
	Difficulty uint8
	Port       int
	Debug      bool
}

func main() {
	config := parseFlags()

	log := logrus.New()
	if config.Debug {
		log.SetLevel(logrus.DebugLevel)
	}

	if err := os.MkdirAll(config.StorageDir, 0755); err != nil {
		log.WithError(err).Fatal("failed to setup storage")
	}

	hasher := hashing.NewService()

	accounts, err := registry.NewAccountRegistry(registry.RegistryConfig{
		AccountsFilePath: filepath.Join(config.StorageDir, "accounts.json"),
		AutoSave:         true,
	}, hasher)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize account registry")
	}
	if err := accounts.LoadTestData(); err != nil {
		log.WithError(err).Fatal("failed to load account registry data")
	}

	deployer, err := accounts.Ensure(config.OwnerName)
	if err != nil {
		log.WithError(err).Fatal("failed to resolve deployer account")
	}

	sim, err := service.NewSimulator(service.Config{
		StoragePath: filepath.Join(config.StorageDir, "chain"),
		Difficulty:  config.Difficulty,
	}, deployer.Address, hasher, log)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize simulator")
	}

	if err := wirePlugins(sim, hasher); err != nil {
		log.WithError(err).Fatal("failed to wire plugins")
	}

	server := api.NewServer(sim, accounts, log)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	serverChan := make(chan error, 1)
	go func() {
		serverChan <- server.Start(fmt.Sprintf(":%d", config.Port))
	}()

	select {
	case err := <-serverChan:
		log.WithError(err).Fatal("server error")
	case sig := <-sigChan:
		log.WithField("signal", sig.String()).Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.WithError(err).Error("error during shutdown")
		}
		log.Info("server shutdown completed")
	}
}

// wirePlugins gives both variants the same delegates so their dispatchers
// can be compared side by side.
func wirePlugins(sim *service.Simulator, hasher *hashing.Service) error {
	airdrop := service.NewAirdropPlugin()
	sweep := service.NewSweepPlugin()

	for _, variant := range []service.Variant{service.VariantSecure, service.VariantVulnerable} {
		if err := sim.RegisterPlugin(variant, service.PluginAddress(hasher, "airdrop"), airdrop); err != nil {
			return err
		}
		if err := sim.RegisterPlugin(variant, service.PluginAddress(hasher, "sweep"), sweep); err != nil {
			return err
		}
	}
	return nil
}

func parseFlags() *Config {
	config := &Config{}

	flag.StringVar(&config.StorageDir, "storage", "data", "Directory for simulator storage")
	flag.StringVar(&config.OwnerName, "owner", "owner", "Registry account that deploys the contracts")
	flag.IntVar(&config.Port, "port", 8080, "Server port")
	flag.BoolVar(&config.Debug, "debug", false, "Enable debug logging")

	var difficultyInt int
	flag.IntVar(&difficultyInt, "difficulty", 0, "Event chain mining difficulty (0-255)")

	flag.Parse()

	if difficultyInt < 0 || difficultyInt > 255 {
		fmt.Fprintln(os.Stderr, "Difficulty must be between 0 and 255")
		os.Exit(1)
	}
	config.Difficulty = uint8(difficultyInt)

	return config
}
