// Package main is the single-binary entrypoint for Tandem.
package main

import "github.com/tandem-app/tandem/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
