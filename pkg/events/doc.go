// Package events provides an in-memory broker broadcasting volume lifecycle
// events (created, received, pushed, destroyed) to subscribers. Publishing
// never blocks the volume service; slow subscribers drop events.
package events
