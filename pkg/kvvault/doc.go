// Package kvvault is a client facade over Vault's versioned KV (v2) secrets
// engine. It exposes scoped read/write/delete/list operations under a fixed
// mount and keeps the client token alive for the lifetime of the Client by
// renewing it on a fixed interval in the background.
//
// Construction never touches the network; connectivity problems surface on
// the first operation or the first renewal tick. Call Close when done so the
// renewal loop shuts down.
package kvvault
