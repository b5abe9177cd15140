// Package safego provides a panic-recovering goroutine launcher for
// fire-and-forget background work.
package safego

import "log/slog"

// Go runs fn in a new goroutine, recovering and logging any panic instead of
// letting it take the process down. Use it for work detached from a request,
// such as audit writes and last-logon stamps, where a panic would otherwise
// kill the goroutine with no trace.
func Go(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("recovered panic in background goroutine", "panic", r)
			}
		}()
		fn()
	}()
}
