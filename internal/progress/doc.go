// Package progress streams run lifecycle events from the worker to pluggable sinks.
// Events are buffered and delivered in batches on a background goroutine so the
// crawl loop never waits on a slow consumer.
package progress
