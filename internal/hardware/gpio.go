package hardware

import (
	"errors"
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

const consumer = "olfacto"

// GPIO drives lines through the Linux GPIO character device.
type GPIO struct {
	outputs map[int]*gpiocdev.Line
	inputs  map[int]*gpiocdev.Line
}

// OpenGPIO claims outputs (initialised LOW) and inputs on chip. Any failure
// releases what was already claimed.
func OpenGPIO(chip string, outputs, inputs []int) (*GPIO, error) {
	g := &GPIO{
		outputs: make(map[int]*gpiocdev.Line, len(outputs)),
		inputs:  make(map[int]*gpiocdev.Line, len(inputs)),
	}
	for _, offset := range outputs {
		l, err := gpiocdev.RequestLine(chip, offset, gpiocdev.AsOutput(0), gpiocdev.WithConsumer(consumer))
		if err != nil {
			g.Close()
			return nil, fmt.Errorf("claim output line %d on %s: %w", offset, chip, err)
		}
		g.outputs[offset] = l
	}
	for _, offset := range inputs {
		l, err := gpiocdev.RequestLine(chip, offset, gpiocdev.AsInput, gpiocdev.WithConsumer(consumer))
		if err != nil {
			g.Close()
			return nil, fmt.Errorf("claim input line %d on %s: %w", offset, chip, err)
		}
		g.inputs[offset] = l
	}
	return g, nil
}

// SetOutput drives an output line.
func (g *GPIO) SetOutput(line int, level Level) error {
	l, ok := g.outputs[line]
	if !ok {
		return fmt.Errorf("output %d: %w", line, ErrUnknownLine)
	}
	return l.SetValue(int(level))
}

// ReadInput samples an input line.
func (g *GPIO) ReadInput(line int) (Level, error) {
	l, ok := g.inputs[line]
	if !ok {
		return Low, fmt.Errorf("input %d: %w", line, ErrUnknownLine)
	}
	v, err := l.Value()
	if err != nil {
		return Low, err
	}
	if v != 0 {
		return High, nil
	}
	return Low, nil
}

// Close drives outputs LOW and releases every line.
func (g *GPIO) Close() error {
	var errs []error
	for offset, l := range g.outputs {
		if err := l.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("output %d: %w", offset, err))
		}
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, l := range g.inputs {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	g.outputs = map[int]*gpiocdev.Line{}
	g.inputs = map[int]*gpiocdev.Line{}
	return errors.Join(errs...)
}
