// Package logging provides slog-based structured logging for belfry with a
// console handler for interactive use and a JSON handler for log shipping.
package logging
