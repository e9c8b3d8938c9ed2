// Package port checks host ports for the ws-launcher CLI.
//
// Before anything is built, the ports that workers will listen on are
// checked with a bind probe (Scanner). After a worker or the message bus
// is started, Poll and WaitReachable wait for it to accept connections,
// pacing attempts with a token-bucket limiter from golang.org/x/time/rate.
package port
