// Package logging configures structured slog output for Qanoon.
//
// Logs always go to a size-rotated JSON file under ~/.qanoon/logs/. Console
// output on stderr is optional; it is human-readable text on a terminal and
// JSON when stderr is redirected, so log shippers see one format.
package logging
