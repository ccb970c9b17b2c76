// Package stores provides the bundle ledger for modhost.
//
// The ledger is a SQLite database (WAL mode, embedded migrations) that records every
// bundle generation written in dev mode and the diagnostics raised while composing
// controllers. Non-dev initialization compares the bundle on disk with the latest
// recorded checksum to detect stale deploys.
package stores
