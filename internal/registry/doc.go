// Package registry manages agent registration: durable agent records, a
// provisioned chat channel per agent, and liveness bookkeeping.
package registry
