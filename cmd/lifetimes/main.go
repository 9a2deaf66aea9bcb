package main

import (
	"os"

	"github.com/rubens21/go-lifetimes/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
