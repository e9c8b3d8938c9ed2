// Package main is the entry point for the ws-launcher CLI.
//
// All commands live in internal/cli. Build-time variables are injected via
// ldflags, for example:
//
//	go build -ldflags "-X main.version=v1.2.0" ./cmd/ws-launcher
package main

import (
	"github.com/shinji-kodama/ws-launcher/internal/cli"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cli.Version = version
	cli.Commit = commit
	cli.Date = date

	cli.Execute(cli.NewRootCommand())
}
