package procs

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/multierr"
)

// File descriptors a launcher hands to its subordinate.
const (
	childInFD  = 3
	childOutFD = 4
)

// Child is the subordinate's end of the message channel.
type Child struct {
	name    string
	dec     *decoder
	enc     *encoder
	closers []io.Closer
}

// OpenChild opens the channel inherited from a launcher. It fails with
// ErrNotSubordinate when the process was not started by one.
func OpenChild(name string) (*Child, error) {
	in := os.NewFile(childInFD, "dappkit-in")
	out := os.NewFile(childOutFD, "dappkit-out")
	for _, f := range []*os.File{in, out} {
		if f == nil {
			return nil, ErrNotSubordinate
		}
		if _, err := f.Stat(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrNotSubordinate, err)
		}
	}
	c := NewChild(name, in, out)
	c.closers = []io.Closer{in, out}
	return c, nil
}

// NewChild wraps an arbitrary reader and writer, mainly for tests.
func NewChild(name string, r io.Reader, w io.Writer) *Child {
	return &Child{
		name: name,
		dec:  newDecoder(r),
		enc:  newEncoder(w, "dappkit/"+name),
	}
}

// Receive blocks for the next message from the launcher. io.EOF means the
// launcher closed the channel. Errors wrapping ErrMalformedMessage concern a
// single line; the channel stays open.
func (c *Child) Receive() (Message, error) {
	return c.dec.decode()
}

// Report sends a result named result back to the launcher.
func (c *Child) Report(result string, err error, payload any) error {
	m, encErr := NewResult(result, err, payload)
	if encErr != nil {
		return encErr
	}
	return c.enc.encode(m)
}

// Send writes an arbitrary message. Subordinates normally use Report; Send
// lets a Child stand in for the launcher side of a channel.
func (c *Child) Send(m Message) error {
	return c.enc.encode(m)
}

// Close releases the inherited descriptors.
func (c *Child) Close() error {
	var err error
	for _, closer := range c.closers {
		err = multierr.Append(err, closer.Close())
	}
	return err
}
