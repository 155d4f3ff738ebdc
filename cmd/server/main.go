package main

import (
	"flag"
	"log"
	"os"

	approuters "Parley/internal/app_routers"
	"Parley/internal/configuration"

	"github.com/joho/godotenv"
)

func main() {
	// a missing .env is fine; the environment may be set by other means
	_ = godotenv.Load(".env")

	configPath := flag.String("config", os.Getenv("PARLEY_CONFIG"), "path to the YAML (or legacy JSON) config file")
	flag.Parse()

	config, err := configuration.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	container, err := configuration.BuildContainer(config)
	if err != nil {
		log.Fatalf("Failed to build container: %v", err)
	}

	// Ensure cleanup on shutdown
	defer container.Close()

	// Setup routers
	approuters.StartServer(container)
}
