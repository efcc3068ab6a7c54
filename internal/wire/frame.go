// Package wire implements the TeamRadar delimited wire protocol:
// HEADER#LEN#BODY frames streamed over a byte connection.
package wire

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	sbufio "github.com/sagernet/sing/common/bufio"
)

// MaxBufferSize bounds any single delimited token (header or length) read
// before a '#' is seen. The constant governs, regardless of stray comments
// elsewhere that say otherwise.
const MaxBufferSize = 1 << 20 // 1 MiB

// DefaultTransferTimeout bounds, once a frame has begun, the wait for each
// further byte of its header and length fields, and the wait for its whole
// body once the length is known.
const DefaultTransferTimeout = 30 * time.Second

// Frame is one HEADER#LEN#BODY unit of the wire protocol.
type Frame struct {
	Header string
	Body   []byte
}

// InboundHeaders are the tags a server expects to receive from clients.
var InboundHeaders = map[string]bool{
	"GREETING":       true,
	"EVENT":          true,
	"CHAT":           true,
	"REG_PHOTO":      true,
	"REG_COLOR":      true,
	"JOIN_PROJECT":   true,
	"REQ_ONLINE":     true,
	"REQ_PHOTO":      true,
	"REQ_COLOR":      true,
	"REQ_EVENTS":     true,
	"REQ_TIMESPAN":   true,
	"REQ_PROJECTS":   true,
	"REQ_TEAMMEMBERS": true,
	"REQ_LOCATION":   true,
}

// OutboundHeaders are the tags a server may send to clients.
var OutboundHeaders = map[string]bool{
	"GREETING":          true,
	"EVENT":              true,
	"EVENTS_REPLY":       true,
	"CHAT":               true,
	"TEAMMEMBERS_REPLY":  true,
	"ONLINE_REPLY":       true,
	"PHOTO_REPLY":        true,
	"COLOR_REPLY":        true,
	"TIMESPAN_REPLY":     true,
	"PROJECTS_REPLY":     true,
	"LOCATION_REPLY":     true,
}

// Errors returned by Framer. FramingError and TransferTimeout are fatal to
// the connection; UnknownHeader is recoverable.
var (
	ErrFraming         = fmt.Errorf("wire: framing error")
	ErrUnknownHeader   = fmt.Errorf("wire: unknown header")
	ErrTransferTimeout = fmt.Errorf("wire: transfer timeout")
)

// deadlineReadWriter is the subset of net.Conn the Framer needs. Splitting
// it out keeps the Framer testable against an in-memory pipe.
type deadlineReadWriter interface {
	io.Reader
	io.Writer
	SetReadDeadline(t time.Time) error
}

// Framer turns a byte stream into a sequence of Frames and back. One Framer
// serves exactly one connection; it is not safe for concurrent ReadFrame
// calls (mirrors SagerNet/smux's single recvLoop-per-Session discipline).
type Framer struct {
	conn      deadlineReadWriter
	timeout   time.Duration
	maxBuffer int
	scratch   []byte
}

// NewFramer wraps conn. timeout is the per-frame transfer timeout; zero
// selects DefaultTransferTimeout.
func NewFramer(conn deadlineReadWriter, timeout time.Duration) *Framer {
	if timeout <= 0 {
		timeout = DefaultTransferTimeout
	}
	return &Framer{
		conn:      conn,
		timeout:   timeout,
		maxBuffer: MaxBufferSize,
		scratch:   make([]byte, 0, 256),
	}
}

// SetMaxBuffer overrides the per-token buffer cap (default MaxBufferSize).
// A non-positive value is ignored.
func (f *Framer) SetMaxBuffer(n int) {
	if n > 0 {
		f.maxBuffer = n
	}
}

// ReadFrame blocks until one frame has arrived, or returns a fatal
// (ErrFraming, ErrTransferTimeout, io error) or recoverable (ErrUnknownHeader)
// error. On ErrUnknownHeader the caller may call ReadFrame again; the framer
// has already resynchronized on the next header.
func (f *Framer) ReadFrame() (Frame, error) {
	// Waiting for a frame to begin is not bounded by the transfer timeout;
	// a connection may sit idle between frames indefinitely as far as the
	// framer is concerned (idle reaping is a Connection-level concern).
	if err := f.conn.SetReadDeadline(time.Time{}); err != nil {
		return Frame{}, err
	}

	header, err := f.readToken(true)
	if err != nil {
		return Frame{}, err
	}

	lenTok, err := f.readToken(false)
	if err != nil {
		return Frame{}, err
	}
	n, convErr := strconv.Atoi(lenTok)
	if convErr != nil || n < 0 {
		return Frame{}, fmt.Errorf("%w: bad length %q", ErrFraming, lenTok)
	}

	body, err := f.readBody(n)
	if err != nil {
		return Frame{}, err
	}
	// An unrecognized frame is consumed whole before it is reported, so the
	// next call starts on the following header.
	if !InboundHeaders[header] {
		return Frame{}, fmt.Errorf("%w: %q", ErrUnknownHeader, header)
	}
	return Frame{Header: header, Body: body}, nil
}

// readToken reads bytes one at a time until '#' or maxBuffer overflow,
// returning the token with the trailing delimiter stripped. firstOfFrame
// suppresses the transfer-timeout deadline for the very first byte read,
// since that byte may arrive arbitrarily late if the peer is merely idle;
// every byte after that refreshes the deadline, matching "from the moment
// a frame begins until it is fully received".
func (f *Framer) readToken(firstOfFrame bool) (string, error) {
	buf := f.scratch[:0]
	first := firstOfFrame
	for {
		if !first {
			if err := f.conn.SetReadDeadline(time.Now().Add(f.timeout)); err != nil {
				return "", err
			}
		}
		var b [1]byte
		if _, err := io.ReadFull(f.conn, b[:]); err != nil {
			if isTimeout(err) {
				return "", ErrTransferTimeout
			}
			return "", err
		}
		first = false
		buf = append(buf, b[0])
		if b[0] == '#' {
			f.scratch = buf
			return string(buf[:len(buf)-1]), nil
		}
		if len(buf) >= f.maxBuffer {
			f.scratch = buf
			return "", ErrFraming
		}
	}
}

func (f *Framer) readBody(n int) ([]byte, error) {
	body := make([]byte, n)
	if n == 0 {
		return body, nil
	}
	if err := f.conn.SetReadDeadline(time.Now().Add(f.timeout)); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(f.conn, body); err != nil {
		if isTimeout(err) {
			return nil, ErrTransferTimeout
		}
		return nil, err
	}
	return body, nil
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

// Compose joins bodies with '#' and returns the frame that would be
// produced on the wire for (header, bodies...). A single-body call is the
// degenerate case of the same join.
func Compose(header string, bodies ...[]byte) Frame {
	return Frame{Header: header, Body: bytes.Join(bodies, []byte{'#'})}
}

// WriteFrame serializes fr as HEADER#LEN#BODY and writes it in as few
// syscalls as possible: the header+length prefix and the body are handed
// to the connection as a single vectorised write when the underlying
// writer supports it (SagerNet/smux's own sendLoop does this), falling back
// to one concatenated buffer otherwise.
func (f *Framer) WriteFrame(fr Frame) error {
	prefix := []byte(fr.Header + "#" + strconv.Itoa(len(fr.Body)) + "#")

	if bw, ok := sbufio.CreateVectorisedWriter(f.conn); ok {
		vec := [][]byte{prefix, fr.Body}
		_, err := sbufio.WriteVectorised(bw, vec)
		return err
	}

	buf := make([]byte, 0, len(prefix)+len(fr.Body))
	buf = append(buf, prefix...)
	buf = append(buf, fr.Body...)
	_, err := f.conn.Write(buf)
	return err
}
