// Package identity derives the stable machine+project identity that scopes
// notification routing when several workstations share one chat channel.
package identity
