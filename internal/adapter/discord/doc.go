// Package discord implements the chat platform client on the Discord REST API.
package discord
