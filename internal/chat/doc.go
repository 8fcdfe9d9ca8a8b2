// Package chat is the boundary to the team chat backend. It defines the
// Backend interface the agent services program against and a REST client
// for a Zulip-compatible API. Message delivery is never transactional with
// local persistence; callers decide what a failed send means.
package chat
