// Package radiosim provides a deterministic Driver double for tests and
// the simulation CLI, grounded on the teacher's ptt_test.go
// mockGPIODLine pattern: a small struct recording calls/state without
// requiring real hardware.
package radiosim

import (
	"sync"

	"github.com/doismellburning/samoyed/internal/radio"
)

// Fake is a scriptable radio.Driver. Tests drive its state directly
// (SetReceiving, SetPending, QueueRX) rather than simulating real RF.
type Fake struct {
	mu sync.Mutex

	poweredOn    bool
	channel      int
	channelClear bool
	receiving    bool
	pending      bool
	rxFrame      []byte
	txFrames     [][]byte
	prepareErr   error
	transmitErr  error
	lastTimestamp int64
}

// New returns a Fake with the channel clear by default (so CCA passes
// unless a test explicitly busies it).
func New() *Fake {
	return &Fake{channelClear: true}
}

func (f *Fake) Prepare(buf []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.prepareErr != nil {
		return f.prepareErr
	}
	cp := make([]byte, len(buf))
	copy(cp, buf)
	f.txFrames = append(f.txFrames, cp)
	return nil
}

func (f *Fake) Transmit() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transmitErr
}

func (f *Fake) On()  { f.mu.Lock(); f.poweredOn = true; f.mu.Unlock() }
func (f *Fake) Off() { f.mu.Lock(); f.poweredOn = false; f.mu.Unlock() }

func (f *Fake) ReceivingPacket() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.receiving
}

func (f *Fake) PendingPacket() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending
}

func (f *Fake) Read(buf []byte) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := copy(buf, f.rxFrame)
	f.pending = false
	return n
}

func (f *Fake) ChannelClear() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channelClear
}

func (f *Fake) GetValue(p radio.Param) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch p {
	case radio.ParamChannel:
		return f.channel, nil
	}
	return 0, nil
}

func (f *Fake) SetValue(p radio.Param, v int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch p {
	case radio.ParamChannel:
		f.channel = v
	}
	return nil
}

func (f *Fake) GetObject(key radio.GetObjectKey) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch key {
	case radio.LastPacketTimestamp:
		return f.lastTimestamp, nil
	}
	return nil, nil
}

// --- Test control surface ---

func (f *Fake) IsOn() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.poweredOn
}

func (f *Fake) SetChannelClear(clear bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channelClear = clear
}

func (f *Fake) SetReceiving(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receiving = v
}

func (f *Fake) QueueRX(frame []byte, timestamp int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rxFrame = frame
	f.pending = true
	f.lastTimestamp = timestamp
}

func (f *Fake) SetPrepareErr(err error)  { f.mu.Lock(); f.prepareErr = err; f.mu.Unlock() }
func (f *Fake) SetTransmitErr(err error) { f.mu.Lock(); f.transmitErr = err; f.mu.Unlock() }

// TXFrames returns every frame handed to Prepare, in order, for
// assertions.
func (f *Fake) TXFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.txFrames))
	copy(out, f.txFrames)
	return out
}
