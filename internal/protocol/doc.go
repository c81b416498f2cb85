// Package protocol implements the binary capture frame codec used on the
// capture ingress socket: audio frames, screen snapshots and device-lost
// notices, each behind a fixed big-endian header.
package protocol
