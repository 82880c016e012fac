package serialmux

import (
	"context"
	"errors"
	"testing"
	"time"
)

func startMonitor(t *testing.T, mux *SerialMux[*TestableSerialPort]) (context.CancelFunc, chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- mux.Monitor(ctx) }()
	t.Cleanup(func() {
		cancel()
		mux.Close()
	})
	return cancel, errCh
}

func awaitFrame(t *testing.T, mux Link) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	frame, err := mux.Await(ctx)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	return frame
}

func TestSendCommandAppendsETX(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	if err := mux.SendCommand("Z34"); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	// a caller that already terminated the frame does not get a second ETX
	if err := mux.SendCommand("C067\x03"); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}

	got := string(port.GetWrittenData())
	want := "Z34\x03C067\x03"
	if got != want {
		t.Fatalf("written = %q, want %q", got, want)
	}
}

func TestSendCommandWriteError(t *testing.T) {
	port := NewTestableSerialPort()
	port.WriteError = errors.New("unplugged")
	mux := NewSerialMux(port)

	if err := mux.SendCommand("Z34"); err == nil || err.Error() != "unplugged" {
		t.Fatalf("expected write error, got %v", err)
	}
}

func TestSendCommandAfterClose(t *testing.T) {
	mux := NewSerialMux(NewTestableSerialPort())
	if err := mux.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := mux.SendCommand("Z34"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestScanFrames(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		atEOF   bool
		advance int
		token   string
	}{
		{"complete frame", "\x06006\x03rest", false, 5, "\x06006"},
		{"incomplete", "?+00123", false, 0, ""},
		{"trailing newline", "C067\r\n\x03", false, 7, "C067"},
		{"partial at eof", "abc", true, 3, "abc"},
		{"empty at eof", "", true, 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			advance, token, err := scanFrames([]byte(tt.data), tt.atEOF)
			if err != nil {
				t.Fatalf("unexpected error %v", err)
			}
			if advance != tt.advance {
				t.Errorf("advance = %d, want %d", advance, tt.advance)
			}
			if string(token) != tt.token {
				t.Errorf("token = %q, want %q", token, tt.token)
			}
		})
	}
}

func TestMonitorDeliversFramesInOrder(t *testing.T) {
	port := NewBlockingSerialPort(nil)
	mux := NewSerialMux(port)
	startMonitor(t, mux)

	port.AddReadData([]byte("\x06006\x03?+0001\x03"))

	if got := awaitFrame(t, mux); got != "\x06006" {
		t.Fatalf("first frame = %q", got)
	}
	if got := awaitFrame(t, mux); got != "?+0001" {
		t.Fatalf("second frame = %q", got)
	}
}

func TestMonitorWithResponder(t *testing.T) {
	port := NewBlockingSerialPort(func(frame string) []byte {
		if frame == "Z34" {
			return []byte("\x06006\x03")
		}
		return nil
	})
	mux := NewSerialMux(port)
	startMonitor(t, mux)

	if err := mux.SendCommand("Z34"); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if got := awaitFrame(t, mux); got != "\x06006" {
		t.Fatalf("reply = %q", got)
	}
}

func TestAwaitHonoursContext(t *testing.T) {
	mux := NewSerialMux(NewBlockingSerialPort(nil))
	startMonitor(t, mux)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := mux.Await(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestAwaitAfterCloseReturnsErrClosed(t *testing.T) {
	mux := NewSerialMux(NewBlockingSerialPort(nil))
	startMonitor(t, mux)
	mux.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := mux.Await(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestMonitorReadErrorSurfacesInAwait(t *testing.T) {
	port := NewTestableSerialPort()
	port.ReadError = errors.New("framing error")
	mux := NewSerialMux(port)

	err := mux.Monitor(context.Background())
	if err == nil || err.Error() != "framing error" {
		t.Fatalf("Monitor err = %v", err)
	}

	_, err = mux.Await(context.Background())
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestDrainDropsStaleFrames(t *testing.T) {
	port := NewBlockingSerialPort(nil)
	mux := NewSerialMux(port)
	startMonitor(t, mux)

	port.AddReadData([]byte("one\x03two\x03"))
	awaitFrame(t, mux) // ensure both have been scanned
	deadline := time.Now().Add(time.Second)
	for len(mux.frames) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if n := mux.Drain(); n != 1 {
		t.Fatalf("Drain = %d, want 1", n)
	}
	if n := mux.Drain(); n != 0 {
		t.Fatalf("second Drain = %d, want 0", n)
	}
}

func TestDeliverKeepsNewestWhenQueueFull(t *testing.T) {
	mux := NewSerialMux(NewTestableSerialPort())
	for i := 0; i < frameBuffer+3; i++ {
		mux.deliver(string(rune('a' + i)))
	}
	if len(mux.frames) != frameBuffer {
		t.Fatalf("queued = %d, want %d", len(mux.frames), frameBuffer)
	}
	first := <-mux.frames
	if first != "d" {
		t.Fatalf("oldest kept frame = %q, want %q", first, "d")
	}
}

func TestSubscribersReceiveFrames(t *testing.T) {
	port := NewBlockingSerialPort(nil)
	mux := NewSerialMux(port)
	startMonitor(t, mux)

	id, ch := mux.Subscribe()
	defer mux.Unsubscribe(id)

	received := make(chan string, 1)
	go func() {
		if f, ok := <-ch; ok {
			received <- f
		}
	}()
	// give the reader a moment to block on the unbuffered channel
	time.Sleep(10 * time.Millisecond)

	port.AddReadData([]byte("C067\x03"))

	select {
	case f := <-received:
		if f != "C067" {
			t.Fatalf("subscriber got %q", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for subscriber frame")
	}
}

func TestCloseIsIdempotentAndClosesSubscribers(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	_, ch := mux.Subscribe()

	if err := mux.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := mux.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, ok := <-ch; ok {
		t.Fatal("expected subscriber channel closed")
	}
	if !port.Closed {
		t.Fatal("expected port closed")
	}
}
