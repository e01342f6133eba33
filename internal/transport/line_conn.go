package transport

import (
	"bufio"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"
)

const defaultBufferSize = 32 * 1024

// LineConn frames a byte stream with '\n' delimiters. A trailing '\r' is
// dropped so telnet-style clients work unchanged.
type LineConn struct {
	conn         net.Conn
	scanner      *bufio.Scanner
	writer       *bufio.Writer
	writeMu      sync.Mutex
	writeTimeout time.Duration
}

// NewLineConn wraps conn. maxLine bounds a single inbound line; writeTimeout
// bounds each WriteLines call (zero disables the deadline).
func NewLineConn(conn net.Conn, maxLine int, writeTimeout time.Duration) *LineConn {
	if maxLine <= 0 {
		maxLine = defaultBufferSize
	}
	initial := defaultBufferSize
	if initial > maxLine {
		initial = maxLine
	}

	scanner := bufio.NewScanner(conn)
	// Scanner counts the delimiter against the limit.
	scanner.Buffer(make([]byte, 0, initial), maxLine+1)

	return &LineConn{
		conn:         conn,
		scanner:      scanner,
		writer:       bufio.NewWriterSize(conn, defaultBufferSize),
		writeTimeout: writeTimeout,
	}
}

// ReadLine returns the next line, io.EOF when the peer closed cleanly, or
// ErrFrameTooLarge for an over-long line.
func (c *LineConn) ReadLine() (string, error) {
	if !c.scanner.Scan() {
		err := c.scanner.Err()
		if err == nil {
			return "", io.EOF
		}
		if errors.Is(err, bufio.ErrTooLong) {
			return "", ErrFrameTooLarge
		}
		return "", err
	}
	return strings.TrimSuffix(c.scanner.Text(), "\r"), nil
}

func (c *LineConn) WriteLines(lines ...string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}

	for _, line := range lines {
		if _, err := c.writer.WriteString(line); err != nil {
			return err
		}
		if err := c.writer.WriteByte('\n'); err != nil {
			return err
		}
	}
	return c.writer.Flush()
}

func (c *LineConn) Close() error {
	return c.conn.Close()
}

func (c *LineConn) RemoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
