// Package transport holds the plumbing shared by the bus and host link
// writers.
package transport

import "github.com/kstaniek/go-can-bridge/internal/can"

// FrameSink is a generic CAN frame transmission target.
type FrameSink interface {
	SendFrame(can.Frame) error
}

// ByteSink receives encoded host notifications.
type ByteSink interface {
	Send([]byte) error
}

// SinkFunc adapts a function to ByteSink.
type SinkFunc func([]byte) error

func (f SinkFunc) Send(b []byte) error { return f(b) }

// Fanout delivers every notification to all sinks and returns the first
// error seen; a failing sink does not stop delivery to the others.
type Fanout []ByteSink

func (fo Fanout) Send(b []byte) error {
	var first error
	for _, s := range fo {
		if err := s.Send(b); err != nil && first == nil {
			first = err
		}
	}
	return first
}
