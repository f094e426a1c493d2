// Package logx is admind's structured logging layer over zerolog.
//
// Console output is human readable with a short caller, the optional file
// sink is JSON, and WARN+ lines can be forwarded to a Telegram chat under a
// rate limit. Configured secrets are scrubbed before any sink sees a line.
package logx
