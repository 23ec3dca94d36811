package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/cleared-dev/entrysync/internal/commands"
)

func main() {
	// A missing .env is normal in production where secrets come from the environment.
	_ = godotenv.Load()

	if err := commands.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
