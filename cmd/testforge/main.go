package main

import (
	"os"

	"github.com/testforge-labs/testforge-go/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
