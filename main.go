package main

import (
	"os"

	"github.com/kasuganosora/questkeeper/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
