package main

import (
	"os"

	"github.com/veyra/stronghold/cmd/stronghold/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
