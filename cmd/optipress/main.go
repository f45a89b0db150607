// Package main is the entry point for the optipress application.
package main

import (
	"os"

	"github.com/optipress/optipress/cmd/optipress/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
