package server

import (
	"bufio"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var fixedClock = time.Date(2024, 5, 17, 12, 34, 0, 0, time.UTC)

// fakeConn is a transport.Conn with no peer: reads block until Close.
type fakeConn struct {
	addr      string
	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeConn(addr string) *fakeConn {
	return &fakeConn{addr: addr, closed: make(chan struct{})}
}

func (f *fakeConn) ReadLine() (string, error) {
	<-f.closed
	return "", io.EOF
}

func (f *fakeConn) WriteLines(...string) error { return nil }

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) RemoteAddr() string { return f.addr }

func (f *fakeConn) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func testConfig() Config {
	cfg := defaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.HTTPAddr = ""
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

func newTestHub(t *testing.T, cfg Config) *Hub {
	t.Helper()
	h := NewHub(cfg, zap.NewNop(), NewMetrics(prometheus.NewRegistry()))
	h.now = func() time.Time { return fixedClock }
	return h
}

// newTestClient tracks a client in h without starting its pumps, so tests
// can inspect the outbound queue directly.
func newTestClient(t *testing.T, h *Hub, addr, nick string) *Client {
	t.Helper()
	c := NewClient(newFakeConn(addr), h)
	if nick != "" {
		c.SetNickname(nick)
	}
	require.NoError(t, h.add(c, 0))
	return c
}

// queued drains every line currently waiting in c's outbound queue.
func queued(c *Client) []string {
	var out []string
	for {
		select {
		case lines, ok := <-c.send:
			if !ok {
				return out
			}
			out = append(out, lines...)
		default:
			return out
		}
	}
}

// lineClient is a raw TCP peer speaking the line protocol.
type lineClient struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

func dialLine(t *testing.T, addr net.Addr) *lineClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr.String(), 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	lc := &lineClient{t: t, conn: conn, reader: bufio.NewReader(conn)}
	lc.expect(welcomeMessage)
	return lc
}

// nick is the default nickname the server derives for this connection.
func (lc *lineClient) nick() string {
	_, port, err := net.SplitHostPort(lc.conn.LocalAddr().String())
	require.NoError(lc.t, err)
	return "User" + port
}

func (lc *lineClient) send(line string) {
	lc.t.Helper()
	_ = lc.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_, err := lc.conn.Write([]byte(line + "\n"))
	require.NoError(lc.t, err)
}

func (lc *lineClient) readLine() (string, error) {
	_ = lc.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := lc.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return line[:len(line)-1], nil
}

func (lc *lineClient) expect(want string) {
	lc.t.Helper()
	got, err := lc.readLine()
	require.NoError(lc.t, err)
	require.Equal(lc.t, want, got)
}

func (lc *lineClient) expectEOF() {
	lc.t.Helper()
	_, err := lc.readLine()
	require.ErrorIs(lc.t, err, io.EOF)
}

func startTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	srv := NewServer(cfg, zap.NewNop())
	srv.hub.now = func() time.Time { return fixedClock }
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Shutdown() })
	return srv
}

// metricValue reads the current value of a single gauge or counter.
func metricValue(m prometheus.Metric) float64 {
	var out dto.Metric
	if err := m.Write(&out); err != nil {
		return -1
	}
	if g := out.GetGauge(); g != nil {
		return g.GetValue()
	}
	return out.GetCounter().GetValue()
}
