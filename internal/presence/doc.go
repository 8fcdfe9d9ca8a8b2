// Package presence tracks whether the human operator is away from the
// keyboard. The AFK flag gates agent notifications: agents only interrupt
// chat while the human has explicitly stepped away.
package presence
