// Package notifications delivers operator alerts over ntfy. When no topic is
// configured the service degrades to a noop so callers never branch.
package notifications
