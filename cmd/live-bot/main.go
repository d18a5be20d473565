package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/minhtuanle/crypto-strike-bot/internal/bot"
	"github.com/minhtuanle/crypto-strike-bot/internal/config"
)

func main() {
	var (
		configFile = flag.String("config", "", "Configuration file (e.g., btc_eth_live.json)")
		envFile    = flag.String("env", ".env", "Environment file path (default: .env)")
		paperMode  = flag.Bool("paper", false, "Paper trading: real feed, simulated fills")
		demo       = flag.Bool("demo", false, "Use the exchange demo trading environment")
	)
	flag.Parse()

	if *configFile == "" {
		log.Fatal("Please specify a config file with -config flag")
	}

	// Load environment variables from .env file
	if err := loadEnvFile(*envFile); err != nil {
		log.Printf("Warning: Could not load .env file (%v), checking environment variables...", err)
	}

	fmt.Println("🚀 Strike Bot Starting...")

	var opts []config.Option
	if *paperMode {
		opts = append(opts, config.WithPaper())
	}
	if *demo {
		opts = append(opts, config.WithDemo())
	}

	botConfig, err := config.Load(*configFile, opts...)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	strikeBot, err := bot.New(botConfig)
	if err != nil {
		log.Fatalf("Failed to create bot: %v", err)
	}

	if err := strikeBot.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start bot: %v", err)
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	fmt.Println("\n🛑 Shutdown signal received...")

	strikeBot.Stop()
	fmt.Println("✅ Bot stopped successfully")
}

// loadEnvFile loads environment variables from a file
func loadEnvFile(envFile string) error {
	if _, err := os.Stat(envFile); err == nil {
		return godotenv.Load(envFile)
	}
	return fmt.Errorf("env file %s not found", envFile)
}
