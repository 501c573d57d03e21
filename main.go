package main

import (
	"fmt"
	"os"

	"cygnos/internal/cli"
)

func main() {
	config := cli.NewCliConfig()
	rc, err := cli.Cli(os.Args[1:], config)
	if err != nil {
		fmt.Fprintf(config.Stderr, "%s: error: %v\n", config.Name, err)
	}
	os.Exit(rc)
}
