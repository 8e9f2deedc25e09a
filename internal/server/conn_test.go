package server

import (
	"crypto/ed25519"
	"crypto/rand"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"

	"github.com/Nikaidou-Shinku/yur-paintboard/internal/actionlog"
	"github.com/Nikaidou-Shinku/yur-paintboard/internal/auth"
	"github.com/Nikaidou-Shinku/yur-paintboard/internal/canvas"
	"github.com/Nikaidou-Shinku/yur-paintboard/internal/config"
	"github.com/Nikaidou-Shinku/yur-paintboard/internal/hub"
	"github.com/Nikaidou-Shinku/yur-paintboard/internal/pace"
	"github.com/Nikaidou-Shinku/yur-paintboard/internal/pixel"
	"github.com/Nikaidou-Shinku/yur-paintboard/internal/snapshot"
)

const (
	testWidth  = 20
	testHeight = 10
)

type testEnv struct {
	srv  *Server
	http *httptest.Server
	priv ed25519.PrivateKey
}

func testConfig() *config.Config {
	return &config.Config{
		Addr:              "127.0.0.1:0",
		Width:             testWidth,
		Height:            testHeight,
		DefaultColor:      "#FFFFFF",
		MinInterval:       500 * time.Millisecond,
		DeltaFlush:        25 * time.Millisecond,
		PingInterval:      time.Hour, // tests opt in to short heartbeats
		PongTimeout:       time.Hour,
		BroadcastBuffer:   256,
		SnapshotZstdLevel: 3,
		DBPath:            ":memory:",
		BoardFlush:        time.Hour,
		ActionFlush:       time.Hour,
		ChunkSize:         600,
		MetricsInterval:   time.Hour,
		LogLevel:          "info",
		LogFormat:         "json",
	}
}

func newTestEnv(t *testing.T, cfg *config.Config) *testEnv {
	t.Helper()

	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	enc, err := snapshot.NewEncoder(cfg.SnapshotZstdLevel)
	if err != nil {
		t.Fatal(err)
	}

	deps := Deps{
		Canvas:   canvas.New(cfg.Width, cfg.Height, cfg.Default(), time.Now()),
		Hub:      hub.New(cfg.BroadcastBuffer, nil),
		Pace:     pace.NewTable(cfg.MinInterval),
		Actions:  actionlog.NewBuffer(),
		Verifier: auth.NewVerifier(pub),
		Encoder:  enc,
	}

	srv := New(cfg, zerolog.Nop(), deps)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{srv: srv, http: ts, priv: priv}
}

func (e *testEnv) token(t *testing.T, uid int64) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, auth.Claims{
		UID:              uid,
		RegisteredClaims: auth.ExpiresIn(time.Hour),
	}).SignedString(e.priv)
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := strings.Replace(e.http.URL, "http", "ws", 1) + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, opcode byte, payload []byte) {
	t.Helper()
	frame := append([]byte{opcode}, payload...)
	if err := ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		t.Fatal(err)
	}
}

func recvFrame(t *testing.T, ws *websocket.Conn) []byte {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("received empty frame")
	}
	return data
}

func expectClosed(t *testing.T, ws *websocket.Conn) {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for i := 0; i < 16; i++ {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
	t.Fatal("connection still open")
}

// authAndSnapshot runs the handshake and returns the decompressed board.
func authAndSnapshot(t *testing.T, e *testEnv, ws *websocket.Conn, uid int64) []byte {
	t.Helper()

	send(t, ws, 0xFF, []byte(e.token(t, uid)))
	if frame := recvFrame(t, ws); frame[0] != 0xFC {
		t.Fatalf("auth reply opcode = %#X, want 0xFC", frame[0])
	}

	send(t, ws, 0xF9, nil)
	frame := recvFrame(t, ws)
	if frame[0] != 0xFB {
		t.Fatalf("snapshot opcode = %#X, want 0xFB", frame[0])
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer dec.Close()

	raw, err := dec.DecodeAll(frame[1:], nil)
	if err != nil {
		t.Fatalf("decompress snapshot: %v", err)
	}
	return raw
}

func paintPayload(x, y uint16, c pixel.Color) []byte {
	return pixel.Pixel{X: x, Y: y, Color: c}.AppendBinary(nil)
}

func TestAuthSnapshotPaintDelta(t *testing.T) {
	e := newTestEnv(t, testConfig())

	a := e.dial(t)
	b := e.dial(t)

	raw := authAndSnapshot(t, e, a, 42)
	if len(raw) != testWidth*testHeight*3 {
		t.Fatalf("snapshot is %d bytes, want %d", len(raw), testWidth*testHeight*3)
	}
	for i := 0; i < 3; i++ {
		if raw[i] != 255 {
			t.Fatalf("snapshot byte %d = %d, want 255", i, raw[i])
		}
	}
	authAndSnapshot(t, e, b, 7)

	red := pixel.Color{R: 255}
	send(t, a, 0xFE, paintPayload(5, 7, red))

	want := append([]byte{0xFA}, paintPayload(5, 7, red)...)
	for _, ws := range []*websocket.Conn{a, b} {
		got := recvFrame(t, ws)
		if string(got) != string(want) {
			t.Errorf("delta frame = % X, want % X", got, want)
		}
	}

	cell := e.srv.deps.Canvas.Get(5, 7)
	if cell.Color != red || cell.UID != 42 {
		t.Errorf("cell = %+v", cell)
	}
	if n := e.srv.deps.Actions.Len(); n != 1 {
		t.Errorf("action buffer holds %d actions, want 1", n)
	}
}

func TestSameColorPaintLogsButDoesNotBroadcast(t *testing.T) {
	e := newTestEnv(t, testConfig())

	a := e.dial(t)
	authAndSnapshot(t, e, a, 42)

	// Paint the default color onto a default cell: admitted, logged, no
	// delta for anyone.
	send(t, a, 0xFE, paintPayload(0, 0, pixel.Color{R: 255, G: 255, B: 255}))
	time.Sleep(100 * time.Millisecond)

	if n := e.srv.deps.Actions.Len(); n != 1 {
		t.Errorf("action buffer holds %d actions, want 1", n)
	}

	a.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	if _, data, err := a.ReadMessage(); err == nil {
		t.Errorf("unexpected frame % X", data)
	}
}

func TestUnauthPaintCloses(t *testing.T) {
	e := newTestEnv(t, testConfig())

	ws := e.dial(t)
	send(t, ws, 0xFE, paintPayload(1, 1, pixel.Color{R: 255}))
	expectClosed(t, ws)
}

func TestUnauthPongCloses(t *testing.T) {
	e := newTestEnv(t, testConfig())

	ws := e.dial(t)
	send(t, ws, 0xF7, nil)
	expectClosed(t, ws)
}

func TestInvalidTokenFailsAndCloses(t *testing.T) {
	e := newTestEnv(t, testConfig())

	ws := e.dial(t)
	send(t, ws, 0xFF, []byte("garbage"))

	if frame := recvFrame(t, ws); frame[0] != 0xFD {
		t.Fatalf("auth reply opcode = %#X, want 0xFD", frame[0])
	}
	expectClosed(t, ws)
}

func TestUnknownOpcodeCloses(t *testing.T) {
	e := newTestEnv(t, testConfig())

	ws := e.dial(t)
	authAndSnapshot(t, e, ws, 42)

	send(t, ws, 0xF0, nil)
	expectClosed(t, ws)
}

func TestDuplicateAuthCloses(t *testing.T) {
	e := newTestEnv(t, testConfig())

	ws := e.dial(t)
	send(t, ws, 0xFF, []byte(e.token(t, 42)))
	if frame := recvFrame(t, ws); frame[0] != 0xFC {
		t.Fatalf("auth reply opcode = %#X", frame[0])
	}

	send(t, ws, 0xFF, []byte(e.token(t, 42)))
	expectClosed(t, ws)
}

func TestDuplicateBoardRequestCloses(t *testing.T) {
	e := newTestEnv(t, testConfig())

	ws := e.dial(t)
	authAndSnapshot(t, e, ws, 42)

	send(t, ws, 0xF9, nil)
	expectClosed(t, ws)
}

func TestMalformedPaintCloses(t *testing.T) {
	cases := map[string][]byte{
		"short":         {0x01, 0x00, 0x02},
		"long":          {0x01, 0x00, 0x02, 0x00, 0x01, 0x02, 0x03, 0x04},
		"x out of grid": paintPayload(testWidth, 0, pixel.Color{}),
		"y out of grid": paintPayload(0, testHeight, pixel.Color{}),
	}

	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			e := newTestEnv(t, testConfig())
			ws := e.dial(t)
			authAndSnapshot(t, e, ws, 42)

			send(t, ws, 0xFE, payload)
			expectClosed(t, ws)
		})
	}
}

func TestBoundaryPaintAccepted(t *testing.T) {
	e := newTestEnv(t, testConfig())

	ws := e.dial(t)
	authAndSnapshot(t, e, ws, 42)

	red := pixel.Color{R: 255}
	send(t, ws, 0xFE, paintPayload(testWidth-1, testHeight-1, red))

	frame := recvFrame(t, ws)
	if frame[0] != 0xFA {
		t.Fatalf("frame opcode = %#X, want 0xFA", frame[0])
	}
	if cell := e.srv.deps.Canvas.Get(testWidth-1, testHeight-1); cell.Color != red {
		t.Errorf("corner cell = %+v", cell)
	}
}

func TestQuickPaintStrikesClose(t *testing.T) {
	e := newTestEnv(t, testConfig())

	ws := e.dial(t)
	authAndSnapshot(t, e, ws, 42)

	// First paint admitted; four more inside the interval exhaust the
	// strike allowance.
	for i := 0; i < 5; i++ {
		send(t, ws, 0xFE, paintPayload(uint16(i), 1, pixel.Color{R: 255}))
	}
	expectClosed(t, ws)

	if n := e.srv.deps.Actions.Len(); n != 1 {
		t.Errorf("action buffer holds %d actions, want 1", n)
	}
}

func TestQuickPaintStrikesResetOnAdmittedPaint(t *testing.T) {
	cfg := testConfig()
	cfg.MinInterval = 60 * time.Millisecond
	e := newTestEnv(t, cfg)

	ws := e.dial(t)
	authAndSnapshot(t, e, ws, 42)

	red := pixel.Color{R: 255}

	// Three bursts of one admitted + two rejected paints. Without the
	// reset the six rejections would pass the strike limit.
	for burst := 0; burst < 3; burst++ {
		for i := 0; i < 3; i++ {
			send(t, ws, 0xFE, paintPayload(uint16(burst*3+i), 2, red))
		}
		time.Sleep(80 * time.Millisecond)
	}

	// Still alive: one more admitted paint round-trips.
	send(t, ws, 0xFE, paintPayload(15, 3, red))
	frame := recvFrame(t, ws)
	if frame[0] != 0xFA {
		t.Fatalf("frame opcode = %#X, want 0xFA", frame[0])
	}
}

func TestPaintWindowRejects(t *testing.T) {
	cfg := testConfig()
	// A one-second window twelve hours away: the paint is guaranteed to
	// fall outside it.
	far := time.Now().Add(12 * time.Hour).Format("15:04:05")
	cfg.BeginTime = far
	cfg.EndTime = far
	e := newTestEnv(t, cfg)

	ws := e.dial(t)
	authAndSnapshot(t, e, ws, 42)

	send(t, ws, 0xFE, paintPayload(1, 1, pixel.Color{R: 255}))
	expectClosed(t, ws)

	if n := e.srv.deps.Actions.Len(); n != 0 {
		t.Errorf("out-of-window paint reached the action log")
	}
}

func TestHeartbeatTimeoutCloses(t *testing.T) {
	cfg := testConfig()
	cfg.PingInterval = 50 * time.Millisecond
	cfg.PongTimeout = 50 * time.Millisecond
	e := newTestEnv(t, cfg)

	ws := e.dial(t)
	authAndSnapshot(t, e, ws, 42)

	frame := recvFrame(t, ws)
	if frame[0] != 0xF8 {
		t.Fatalf("frame opcode = %#X, want 0xF8 ping", frame[0])
	}

	// No pong: the server closes after the grace period.
	expectClosed(t, ws)
}

func TestHeartbeatPongKeepsAlive(t *testing.T) {
	cfg := testConfig()
	cfg.PingInterval = 50 * time.Millisecond
	cfg.PongTimeout = 50 * time.Millisecond
	e := newTestEnv(t, cfg)

	ws := e.dial(t)
	authAndSnapshot(t, e, ws, 42)

	for i := 0; i < 3; i++ {
		frame := recvFrame(t, ws)
		if frame[0] != 0xF8 {
			t.Fatalf("cycle %d: frame opcode = %#X, want 0xF8 ping", i, frame[0])
		}
		send(t, ws, 0xF7, nil)
	}
}

func TestLivenessRoute(t *testing.T) {
	e := newTestEnv(t, testConfig())

	resp, err := e.http.Client().Get(e.http.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status = %d", resp.StatusCode)
	}
	buf := make([]byte, 64)
	n, _ := resp.Body.Read(buf)
	if got := string(buf[:n]); got != "Just paint freely!" {
		t.Errorf("body = %q", got)
	}
}
