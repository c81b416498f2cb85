// Package fanout distributes the sequenced session feed to WebSocket
// subscribers and optional external relays. Publishing never blocks the
// session owner: a subscriber that cannot keep up is disconnected.
package fanout
