// Package logging provides the structured logger shared by every component.
//
// It wraps log/slog. Entries carry service=pentaircloud and the build
// version, and components add component=<name> through Logger.Component.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Redaction
//
// Attributes named password, token, id_token, refresh_token, secret_key,
// session_token or api_key (or ending in "_" plus one of those) are written
// as [REDACTED]. This is a backstop: callers still never log the account
// password, Cognito tokens or AWS session credentials.
package logging
