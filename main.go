package main

import (
	"os"

	"restaurant-sync/cmd/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
