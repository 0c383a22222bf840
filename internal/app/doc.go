// Package app provides the notification use cases.
//
// Dispatches stream-online events to every subscribed destination under a distributed
// lock, retires stale alerts, flips alerts to offline, and reconciles missed offline
// transitions on boot. Depends on domain interfaces, not concrete implementations.
package app
