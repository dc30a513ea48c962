package main

import (
	"context"
	"log"

	"linkvault/internal/app"
	"linkvault/internal/config"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	if err := app.Run(context.Background(), cfg); err != nil {
		log.Fatal(err)
	}
}
