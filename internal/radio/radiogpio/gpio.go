// Package radiogpio wires component C5's radio gate to a real GPIO line
// via github.com/warthog618/go-gpiocdev, for deployments where "radio
// power" is a line driven by the host (e.g. an external PA or TX/RX
// switch enable), following the teacher's ptt.go convention of a
// PTT_METHOD_GPIOD output (and ptt_test.go's observation that the line
// handle is a small SetValue/Close interface worth mocking rather than
// wiring hardware into unit tests).
package radiogpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// Line is the minimal surface radiogpio needs from a GPIO output line,
// matching gpiocdev.Line's SetValue/Close methods so the real type
// satisfies it without adaptation.
type Line interface {
	SetValue(value int) error
	Close() error
}

// PowerLine drives a single GPIO line high/low to gate radio power,
// implementing the On()/Off() half of the radio.Driver contract that a
// bare transceiver chip doesn't itself expose (many modules, like the
// teacher's CM108/CM119 PTT fobs, gate power or TX-enable through a GPIO
// pin external to the radio chip itself).
type PowerLine struct {
	line   Line
	invert bool
}

// Open requests chip/offset as an output line and returns a PowerLine
// driving it. invert flips the logic sense, the way the teacher's
// ptt_invert config flag does for its GPIO PTT lines.
func Open(chip string, offset int, invert bool) (*PowerLine, error) {
	l, err := gpiocdev.RequestLine(chip, offset, gpiocdev.AsOutput(0))
	if err != nil {
		return nil, fmt.Errorf("radiogpio: request %s:%d: %w", chip, offset, err)
	}
	return &PowerLine{line: l, invert: invert}, nil
}

// newWithLine is used by tests to inject a mock Line without a real chip.
func newWithLine(l Line, invert bool) *PowerLine {
	return &PowerLine{line: l, invert: invert}
}

func (p *PowerLine) set(active bool) error {
	v := 0
	if active != p.invert {
		v = 1
	}
	return p.line.SetValue(v)
}

// On drives the line to its active level.
func (p *PowerLine) On() error { return p.set(true) }

// Off drives the line to its inactive level.
func (p *PowerLine) Off() error { return p.set(false) }

// Close releases the underlying GPIO line.
func (p *PowerLine) Close() error { return p.line.Close() }
