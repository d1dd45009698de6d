package main

import (
	"os"

	"github.com/JohnPreston/credproxy/cmd/credproxy/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
