// Package sensor provides ADC readings for the peak sampler.
package sensor

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/verte-zerg/kickshield/internal/model"
)

// DefaultBaud matches the microcontroller bridge firmware.
const DefaultBaud = 115200

// Flat is a sensor without hardware behind it. It always reads its own value.
type Flat int

// Read implements detect.Sensor.
func (f Flat) Read() int {
	return model.ClampInt(int(f), model.ADCMin, model.ADCMax)
}

// Serial reads newline separated ADC values streamed by a bridge board.
// Read returns the largest value received since the previous Read, or the
// latest value when nothing new arrived, so short spikes between polls are
// not lost.
type Serial struct {
	src io.ReadCloser

	mu      sync.Mutex
	latest  int
	pending int
	fresh   bool
	lines   int64
	err     error
	done    chan struct{}
}

// Open opens a serial port and starts reading from it.
func Open(portName string, baud int) (*Serial, error) {
	if baud <= 0 {
		baud = DefaultBaud
	}
	port, err := serial.Open(portName, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}
	return newSerial(port), nil
}

func newSerial(src io.ReadCloser) *Serial {
	s := &Serial{src: src, done: make(chan struct{})}
	go s.listen()
	return s
}

func (s *Serial) listen() {
	defer close(s.done)
	scanner := bufio.NewScanner(s.src)
	for scanner.Scan() {
		v, ok := ParseReading(scanner.Text())
		if !ok {
			continue
		}
		s.mu.Lock()
		s.latest = v
		if !s.fresh || v > s.pending {
			s.pending = v
		}
		s.fresh = true
		s.lines++
		s.mu.Unlock()
	}
	s.mu.Lock()
	s.err = scanner.Err()
	s.mu.Unlock()
}

// Read implements detect.Sensor.
func (s *Serial) Read() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fresh {
		s.fresh = false
		return s.pending
	}
	return s.latest
}

// Lines returns how many valid readings were received.
func (s *Serial) Lines() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lines
}

// Done is closed when the stream ends.
func (s *Serial) Done() <-chan struct{} {
	return s.done
}

// Err returns the read error that ended the stream, if any.
func (s *Serial) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close closes the port; the reader goroutine exits afterwards.
func (s *Serial) Close() error {
	return s.src.Close()
}

// ParseReading extracts an ADC value from one bridge line. Lines may carry a
// "label:" prefix; the value is clamped to the ADC range.
func ParseReading(line string) (int, bool) {
	line = strings.TrimSpace(line)
	if idx := strings.LastIndexByte(line, ':'); idx >= 0 {
		line = strings.TrimSpace(line[idx+1:])
	}
	if line == "" {
		return 0, false
	}
	v, err := strconv.Atoi(line)
	if err != nil {
		return 0, false
	}
	return model.ClampInt(v, model.ADCMin, model.ADCMax), true
}

// PortInfo describes one serial port on the host.
type PortInfo struct {
	Name         string
	IsUSB        bool
	VID          string
	PID          string
	SerialNumber string
}

// ListPorts enumerates serial ports with USB details where available.
func ListPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		names, lerr := serial.GetPortsList()
		if lerr != nil {
			return nil, fmt.Errorf("failed to list serial ports: %w", lerr)
		}
		ports := make([]PortInfo, 0, len(names))
		for _, name := range names {
			ports = append(ports, PortInfo{Name: name})
		}
		return ports, nil
	}
	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		ports = append(ports, PortInfo{
			Name:         d.Name,
			IsUSB:        d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
		})
	}
	return ports, nil
}
