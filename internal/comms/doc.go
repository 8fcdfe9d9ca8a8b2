// Package comms implements the agent-to-human communication protocol:
// presence-gated notifications, blocking input requests with polling wait,
// and status broadcasts, all formatted for a markdown chat channel.
package comms
