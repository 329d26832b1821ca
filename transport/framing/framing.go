// Package framing implements the gRPC-over-HTTP/2 wire framing: a 5-byte
// header (1-byte compressed flag, 4-byte big-endian length) followed by
// exactly that many payload bytes.
package framing

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/sadopc/rpccore/encoding"
)

// HeaderLen is the fixed size of the length-prefix header.
const HeaderLen = 5

// DefaultMaxReceiveMessageSize is the default inbound message size cap: 4
// MiB received, unbounded sent.
const DefaultMaxReceiveMessageSize = 4 * 1024 * 1024

// Encode produces a single wire frame for payload. When compress is true
// and c is non-nil, the payload is replaced by its compressed form and the
// flag byte set to 1. When compress is true but c is nil (no algorithm was
// negotiated), Encode silently falls back to an uncompressed frame rather
// than failing the call.
func Encode(payload []byte, compress bool, c encoding.Compressor) ([]byte, error) {
	flag := byte(0)
	body := payload
	if compress && c != nil {
		compressed, err := compressBytes(payload, c)
		if err != nil {
			return nil, fmt.Errorf("framing: compressing payload: %w", err)
		}
		body = compressed
		flag = 1
	}

	frame := make([]byte, HeaderLen+len(body))
	frame[0] = flag
	binary.BigEndian.PutUint32(frame[1:5], uint32(len(body)))
	copy(frame[HeaderLen:], body)
	return frame, nil
}

func compressBytes(payload []byte, c encoding.Compressor) ([]byte, error) {
	var buf writeBuffer
	w, err := c.Compress(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(payload); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.b, nil
}

// writeBuffer is a tiny io.Writer sink, avoiding a bytes.Buffer import just
// for this.
type writeBuffer struct{ b []byte }

func (w *writeBuffer) Write(p []byte) (int, error) {
	w.b = append(w.b, p...)
	return len(p), nil
}

// Decoder pulls complete frames out of a streaming byte source: decoding
// is length-prefix-driven, so a partial frame is buffered across reads
// until it's complete.
type Decoder struct {
	r              *bufio.Reader
	maxMessageSize int
}

// NewDecoder wraps r. maxMessageSize of 0 uses DefaultMaxReceiveMessageSize.
func NewDecoder(r io.Reader, maxMessageSize int) *Decoder {
	if maxMessageSize <= 0 {
		maxMessageSize = DefaultMaxReceiveMessageSize
	}
	return &Decoder{r: bufio.NewReader(r), maxMessageSize: maxMessageSize}
}

// ErrMessageTooLarge is returned when a frame's declared length exceeds the
// configured maximum; the caller is responsible for mapping this to a
// ResourceExhausted status and terminating the call.
var ErrMessageTooLarge = fmt.Errorf("framing: message size exceeds maximum")

// Next reads one complete frame, returning whether it was compressed and
// its raw (still-compressed, if applicable) payload bytes. It returns
// io.EOF when the source is exhausted exactly at a frame boundary.
func (d *Decoder) Next() (compressed bool, payload []byte, err error) {
	header := make([]byte, HeaderLen)
	if _, err := io.ReadFull(d.r, header); err != nil {
		return false, nil, err
	}

	flag := header[0]
	if flag > 1 {
		return false, nil, fmt.Errorf("framing: invalid compressed flag %d", flag)
	}
	length := binary.BigEndian.Uint32(header[1:5])
	if int(length) > d.maxMessageSize {
		return false, nil, ErrMessageTooLarge
	}

	payload = make([]byte, length)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return false, nil, err
	}
	return flag == 1, payload, nil
}

// Decompress reverses compression applied by Encode, using the algorithm
// named by the grpc-encoding header. A nil Compressor for a compressed
// frame is a protocol error and should be mapped to Internal.
func Decompress(payload []byte, c encoding.Compressor) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("framing: compressed frame received with no negotiated algorithm")
	}
	r, err := c.Decompress(&byteReader{b: payload})
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

type byteReader struct{ b []byte }

func (r *byteReader) Read(p []byte) (int, error) {
	if len(r.b) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.b)
	r.b = r.b[n:]
	return n, nil
}
