// Package logging provides opt-in file-based logging with rotation for Knowledge Engine.
// When the --debug flag is set, comprehensive logs are written to ~/.knowledge/logs/
// for debugging and troubleshooting.
//
// Without --debug, CLI commands log minimally to stderr only, preserving the
// "It Just Works" philosophy. The serve command always logs to the log file
// and never to stderr or stdout, since stdout carries the MCP protocol.
package logging
