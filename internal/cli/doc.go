// Package cli implements the chunkvault operator console: a small REPL that
// drives the file service in-process for one selected user at a time.
package cli
