// Package tasks tracks what agents are working on: start, progress,
// completion and cancellation, persisted in the store and announced on the
// owning agent's channel.
package tasks
