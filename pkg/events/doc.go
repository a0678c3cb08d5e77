// Package events provides the in-process notification bus that connects
// domain modules to the indexing pipeline. Publishing is fire-and-forget
// and delivery is best-effort; durable work must go through the queue,
// not the bus.
package events
