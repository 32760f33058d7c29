package main

import (
	"os"

	"github.com/charmbracelet/log"

	"proxygate/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Error("proxygate terminated", "error", err)
		os.Exit(1)
	}
}
