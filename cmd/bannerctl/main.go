package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/tendant/simple-banners/cmd/bannerctl/commands"
)

func main() {
	// Values from .env fill in anything not already set in the environment.
	_ = godotenv.Load()

	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
