package serialmux

import (
	"bytes"
	"errors"
	"sync"
)

var errPortClosed = errors.New("serial port closed")

// TestableSerialPort is an in-memory SerialPorter. A Responder plays the
// far end: every ETX frame written to the port is handed to it and its
// reply is queued for reading.
type TestableSerialPort struct {
	mu   sync.Mutex
	cond *sync.Cond

	in, out bytes.Buffer // in is read by the mux, out holds what it wrote
	partial []byte       // written bytes not yet terminated by ETX
	block   bool

	// ReadError and WriteError fail the next Read or Write once.
	ReadError  error
	WriteError error
	Closed     bool

	Responder func(frame string) []byte
}

// NewTestableSerialPort returns a port whose reads return io.EOF when
// nothing is queued.
func NewTestableSerialPort() *TestableSerialPort {
	p := &TestableSerialPort{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// NewBlockingSerialPort returns a port whose reads wait for data, the
// way a real serial line behaves under Monitor.
func NewBlockingSerialPort(responder func(frame string) []byte) *TestableSerialPort {
	p := NewTestableSerialPort()
	p.block = true
	p.Responder = responder
	return p
}

func (p *TestableSerialPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.block && !p.Closed && p.ReadError == nil && p.in.Len() == 0 {
		p.cond.Wait()
	}
	if p.Closed {
		return 0, errPortClosed
	}
	if err := p.ReadError; err != nil {
		p.ReadError = nil
		return 0, err
	}
	return p.in.Read(b)
}

func (p *TestableSerialPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Closed {
		return 0, errPortClosed
	}
	if err := p.WriteError; err != nil {
		p.WriteError = nil
		return 0, err
	}
	p.out.Write(b)
	if p.Responder == nil {
		return len(b), nil
	}
	p.partial = append(p.partial, b...)
	for {
		i := bytes.IndexByte(p.partial, ETX)
		if i < 0 {
			break
		}
		frame := string(p.partial[:i])
		p.partial = p.partial[i+1:]
		if reply := p.Responder(frame); len(reply) > 0 {
			p.in.Write(reply)
			p.cond.Broadcast()
		}
	}
	return len(b), nil
}

func (p *TestableSerialPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	p.cond.Broadcast()
	return nil
}

// SetResponder swaps the far end while the port is in use.
func (p *TestableSerialPort) SetResponder(fn func(frame string) []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Responder = fn
}

// AddReadData queues data for the reader.
func (p *TestableSerialPort) AddReadData(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.in.Write(data)
	p.cond.Broadcast()
}

// QueuedReadData returns what is waiting to be read.
func (p *TestableSerialPort) QueuedReadData() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return bytes.Clone(p.in.Bytes())
}

// GetWrittenData returns everything written to the port.
func (p *TestableSerialPort) GetWrittenData() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return bytes.Clone(p.out.Bytes())
}

// WrittenFrames splits everything written so far on ETX.
func (p *TestableSerialPort) WrittenFrames() []string {
	var frames []string
	for _, f := range bytes.Split(p.GetWrittenData(), []byte{ETX}) {
		if len(f) > 0 {
			frames = append(frames, string(f))
		}
	}
	return frames
}

// MockSerialPortFactory hands out one port and records every Open.
type MockSerialPortFactory struct {
	mu sync.Mutex

	Port  SerialPorter
	Error error // returned by Open when set

	OpenCalls []MockOpenCall
}

type MockOpenCall struct {
	Path    string
	Options PortOptions
}

func NewMockSerialPortFactory(port SerialPorter) *MockSerialPortFactory {
	return &MockSerialPortFactory{Port: port}
}

func (f *MockSerialPortFactory) Open(path string, opts PortOptions) (SerialPorter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.OpenCalls = append(f.OpenCalls, MockOpenCall{Path: path, Options: opts})
	if f.Error != nil {
		return nil, f.Error
	}
	return f.Port, nil
}

// LastCall returns the most recent Open, or nil before the first.
func (f *MockSerialPortFactory) LastCall() *MockOpenCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.OpenCalls) == 0 {
		return nil
	}
	return &f.OpenCalls[len(f.OpenCalls)-1]
}
