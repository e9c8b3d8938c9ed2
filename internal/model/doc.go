// Package model defines the domain types and value objects for the
// ws-launcher CLI.
//
// WorkerSpec and LaunchPlan describe what to build and start. The default
// plan reproduces the historical launch of ws-connector, ws-online,
// ws-cache and ws-sender against a local NATS endpoint. ProcessRecord is
// the handle persisted for each started worker.
//
// The package also defines exit codes (ExitCode) and a custom error type
// (CLIError) that carries exit codes for proper OS process exit handling.
package model
