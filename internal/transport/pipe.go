package transport

import (
	"github.com/loomkit/loom/internal/mirror"
)

// PipeEnd is one direction of an in-process connection. Commands still
// round-trip through the msgpack wire form so the pipe exercises exactly
// the serialization a network transport would.
type PipeEnd struct {
	peer *mirror.Runtime
}

// Pipe connects two runtimes back to back and returns the transport for
// each side: the first sends into b, the second into a.
func Pipe(a, b *mirror.Runtime) (*PipeEnd, *PipeEnd) {
	return &PipeEnd{peer: b}, &PipeEnd{peer: a}
}

func (p *PipeEnd) SendCommand(cmd mirror.Command) error {
	data, err := mirror.EncodeCommand(cmd)
	if err != nil {
		return err
	}
	decoded, err := mirror.DecodeCommand(data)
	if err != nil {
		return err
	}
	p.peer.Deliver(decoded)
	return nil
}
