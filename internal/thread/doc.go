// Package thread implements the negotiation thread state machine and its
// per-direction delivery queue.
//
// # Lifecycle
//
// A thread is created on the first relevant message between a sender and a
// creator, always with status=open and waiting_for=creator. Every
// subsequent message flips waiting_for to the party opposite the author
// and refreshes the activity timestamp. open -> resolved and
// open -> expired are the only transitions; both are terminal.
//
// # Delivery
//
// Messages are delivered by polling: UndeliveredMessages returns the
// opposite party's unacknowledged messages in FIFO order, and
// MarkDelivered acknowledges one. Acknowledgment is idempotent; the
// boolean result only distinguishes existing from missing messages, never
// first delivery from re-delivery.
//
// # Expiry
//
// Sweeper runs a periodic bulk sweep that expires open threads idle past a
// configured age. The sweep only matches open threads, so it is idempotent
// and never touches resolved threads regardless of age.
package thread
