// Package server manages the lifecycle of the ops HTTP server: non-blocking
// start, an optional cap on accepted connections, graceful shutdown, and
// SIGINT/SIGTERM handling. Asynchronous serve failures surface on Errors().
package server
