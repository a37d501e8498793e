// Package application provides application initialization and dependency wiring.
// It builds the configuration registry with the compiler namespaces, applies
// the startup snapshot, and creates the snapshot storage, PGO gate, handlers,
// routers, and HTTP server, keeping the main package focused on CLI parsing
// and orchestration.
package application
