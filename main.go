package main

import (
	"os"

	"github.com/tphakala/birdnet-relay/cmd"
	"github.com/tphakala/birdnet-relay/internal/conf"
)

func main() {
	settings := &conf.Settings{}
	if err := cmd.RootCommand(settings).Execute(); err != nil {
		os.Exit(1)
	}
}
