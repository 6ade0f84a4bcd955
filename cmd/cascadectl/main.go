package main

import (
	"os"

	"github.com/awmpietro/golang-cascade-escalation/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
