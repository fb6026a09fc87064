// Package main is the single-binary entrypoint for pickle.
package main

import "github.com/maco144/pickle/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
