// Package logging provides structured logging for the gateway on top of
// log/slog, with recursive sensitive-key redaction.
//
// The Sanitizer is shared with the audit path: request parameters pass
// through SanitizeMap before persistence so that credentials never reach
// the request log in cleartext.
package logging
