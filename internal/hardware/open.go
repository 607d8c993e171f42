package hardware

import (
	"fmt"
	"log"
)

// Config describes the physical rig.
type Config struct {
	Chip       string
	SerialPort string
	Baud       int
	Lines      LineMap
}

// Open claims the serial tag reader and every GPIO line. Failure is fatal to
// the caller; nothing is left claimed on error.
func Open(cfg Config) (*Controller, error) {
	tags, err := OpenSerial(cfg.SerialPort, cfg.Baud)
	if err != nil {
		return nil, fmt.Errorf("tag reader: %w", err)
	}
	lines, err := OpenGPIO(cfg.Chip, cfg.Lines.Outputs(), cfg.Lines.Inputs())
	if err != nil {
		tags.Close()
		return nil, fmt.Errorf("gpio: %w", err)
	}
	log.Printf("[INFO] Hardware ready: chip=%s outputs=%v inputs=%v", cfg.Chip, cfg.Lines.Outputs(), cfg.Lines.Inputs())
	return NewController(lines, tags, cfg.Lines), nil
}

// OpenSim builds a Controller on top of an in-memory simulator.
func OpenSim(sim *Sim, m LineMap) *Controller {
	for _, line := range m.Outputs() {
		sim.SetOutput(line, Low)
	}
	return NewController(sim, sim, m)
}

// OpenLines claims the GPIO lines only, for bench tests that need no tag
// reader. Tag reads on the returned Controller fail with ErrNoSerialPort.
func OpenLines(cfg Config) (*Controller, error) {
	lines, err := OpenGPIO(cfg.Chip, cfg.Lines.Outputs(), cfg.Lines.Inputs())
	if err != nil {
		return nil, fmt.Errorf("gpio: %w", err)
	}
	return NewController(lines, noTags{}, cfg.Lines), nil
}

type noTags struct{}

func (noTags) ReadLine() (string, bool, error) { return "", false, ErrNoSerialPort }
func (noTags) Flush() error                    { return nil }
func (noTags) Close() error                    { return nil }
