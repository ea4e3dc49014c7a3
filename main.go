package main

import (
	"os"

	"github.com/pterodactyl/filebox/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
