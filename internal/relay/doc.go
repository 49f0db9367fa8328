// Package relay contains the room lifecycle and relay state machine: room
// creation, peer admission (open, password-protected, or host-approved), the
// negotiation trigger, message relay, liveness supervision, and cleanup.
//
// The whole core runs on a single hub goroutine. Rooms, connection records,
// and peer registrations are only ever touched from that goroutine, so none
// of them carry locks; concurrency exists only as the interleaving of
// independent connections' events. The one latency-bearing operation, bcrypt
// hashing, runs off the loop and re-enters it through a verdict event, with
// a per-room guard serializing join resolution in the meantime.
package relay
