package main

import (
	"os"

	"github.com/vkngwrapper/bufmgr/cmd/bufmgr-stress/commands"
)

func main() {
	if err := commands.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
