package main

import (
	"os"

	"github.com/LorenDorez/git-tfs/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
