package hardware

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"go.bug.st/serial"
)

// ReadTimeout bounds every serial read so tag polling never blocks.
const ReadTimeout = 10 * time.Millisecond

// ErrNoSerialPort is returned when no USB serial device is present.
var ErrNoSerialPort = errors.New("no /dev/ttyUSB* device found")

// Serial reads tag lines from a USB serial reader.
type Serial struct {
	port serial.Port
	buf  lineBuffer
	tmp  []byte
}

// FindSerialPort returns the first /dev/ttyUSB* device.
func FindSerialPort() (string, error) {
	matches, err := filepath.Glob("/dev/ttyUSB*")
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", ErrNoSerialPort
	}
	sort.Strings(matches)
	return matches[0], nil
}

// OpenSerial opens name at baud. An empty name selects the first USB serial device.
func OpenSerial(name string, baud int) (*Serial, error) {
	if name == "" {
		found, err := FindSerialPort()
		if err != nil {
			return nil, err
		}
		name = found
	}
	port, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", name, err)
	}
	if err := port.SetReadTimeout(ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", name, err)
	}
	return &Serial{port: port, tmp: make([]byte, 256)}, nil
}

// ReadLine reads whatever arrived within ReadTimeout and returns the next
// complete line if one is buffered.
func (s *Serial) ReadLine() (string, bool, error) {
	if !s.buf.complete() {
		n, err := s.port.Read(s.tmp)
		if err != nil {
			return "", false, fmt.Errorf("serial read: %w", err)
		}
		s.buf.write(s.tmp[:n])
	}
	return s.buf.next()
}

// Flush drops buffered and pending input.
func (s *Serial) Flush() error {
	s.buf.reset()
	return s.port.ResetInputBuffer()
}

func (s *Serial) Close() error {
	return s.port.Close()
}
