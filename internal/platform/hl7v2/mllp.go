package hl7v2

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

const (
	// MLLPStartBlock is the MLLP start-of-message byte (VT).
	MLLPStartBlock = 0x0B

	// MLLPEndBlock is the MLLP end-of-message byte (FS).
	MLLPEndBlock = 0x1C

	// MLLPCarriageReturn is the trailing CR after the end block.
	MLLPCarriageReturn = 0x0D

	// mllpMaxMessageSize bounds a single acknowledgment (1 MB).
	mllpMaxMessageSize = 1 << 20

	defaultMLLPTimeout = 30 * time.Second
)

// ErrNoAck is returned when the peer closes the connection before sending a
// complete acknowledgment frame.
var ErrNoAck = errors.New("mllp: no acknowledgment received")

// RejectedError reports an acknowledgment whose MSA-1 code is neither AA nor CA.
type RejectedError struct {
	Code string
	Text string
}

func (e *RejectedError) Error() string {
	if e.Text == "" {
		return fmt.Sprintf("mllp: message rejected with %s", e.Code)
	}
	return fmt.Sprintf("mllp: message rejected with %s: %s", e.Code, e.Text)
}

// MLLPClient delivers HL7v2 messages to a receiving system over MLLP/TCP.
// Each Send uses its own connection.
type MLLPClient struct {
	addr    string
	timeout time.Duration
}

// NewMLLPClient creates a client for addr. A non-positive timeout means 30s.
func NewMLLPClient(addr string, timeout time.Duration) *MLLPClient {
	if timeout <= 0 {
		timeout = defaultMLLPTimeout
	}
	return &MLLPClient{addr: addr, timeout: timeout}
}

// Addr returns the receiver address.
func (c *MLLPClient) Addr() string {
	return c.addr
}

// Send frames msg, writes it and waits for the acknowledgment. A parsed ACK
// is returned together with a *RejectedError when the receiver answered
// AE, AR, CE or CR.
func (c *MLLPClient) Send(ctx context.Context, msg []byte) (*Message, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, fmt.Errorf("mllp: failed to connect to %s: %w", c.addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	if _, err := conn.Write(FrameMessage(msg)); err != nil {
		return nil, fmt.Errorf("mllp: write: %w", err)
	}

	raw, err := readFrame(conn)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("mllp: %w", ctx.Err())
		}
		return nil, err
	}

	ack, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("mllp: invalid acknowledgment: %w", err)
	}
	code, text := ack.Acknowledgment()
	switch code {
	case "AA", "CA":
		return ack, nil
	case "":
		return ack, fmt.Errorf("mllp: acknowledgment has no MSA segment")
	}
	return ack, &RejectedError{Code: code, Text: text}
}

func readFrame(conn net.Conn) ([]byte, error) {
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if msg, _, found := UnframeMessage(buf); found {
				return msg, nil
			}
			if len(buf) > mllpMaxMessageSize {
				return nil, fmt.Errorf("mllp: acknowledgment exceeds %d bytes", mllpMaxMessageSize)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil, ErrNoAck
			}
			return nil, fmt.Errorf("mllp: read: %w", err)
		}
	}
}

// FrameMessage wraps raw HL7v2 bytes in MLLP framing:
//
//	<0x0B> + message + <0x1C><0x0D>
func FrameMessage(data []byte) []byte {
	frame := make([]byte, 0, len(data)+3)
	frame = append(frame, MLLPStartBlock)
	frame = append(frame, data...)
	frame = append(frame, MLLPEndBlock, MLLPCarriageReturn)
	return frame
}

// UnframeMessage extracts the first complete MLLP frame from data. It returns
// the message, the bytes after the frame and whether a frame was found.
func UnframeMessage(data []byte) (message []byte, rest []byte, found bool) {
	start := bytes.IndexByte(data, MLLPStartBlock)
	if start == -1 {
		return nil, data, false
	}
	end := bytes.Index(data[start+1:], []byte{MLLPEndBlock, MLLPCarriageReturn})
	if end == -1 {
		return nil, data, false
	}
	end += start + 1
	return data[start+1 : end], data[end+2:], true
}
