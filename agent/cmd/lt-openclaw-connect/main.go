package main

import (
	"fmt"
	"os"

	"github.com/launchthat/openclaw-connector/agent/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "lt-openclaw-connect:", err)
		os.Exit(1)
	}
}
