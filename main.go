package main

import (
	"os"

	"github.com/hotovec/mails/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
