// Package types defines the domain types shared by the transfer engine,
// the ledger and the CLI.
//
//nolint:revive // types is a common Go package naming convention
package types

// Version is the canonical project version reported by the CLI.
const Version = "0.4.0"
