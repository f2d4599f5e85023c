package sensors

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/openpressure/mprd/mpr"
)

// MPR wraps an mpr driver and implements the PressureReader interface,
// sampling the sensor in the background and caching the last good reading.
type MPR struct {
	sensor *mpr.MPR
	unit   mpr.Unit

	mu       sync.Mutex // guards the cached state below against the sampler
	pressure float64
	status   byte
	failures int
	running  bool
}

var errMPR = errors.New("MPR Error: MPR is not running")

var _ PressureReader = (*MPR)(nil)

// NewMPR starts reading the given sensor every freq in the given unit. The
// driver must already have had Begin called on it.
func NewMPR(sensor *mpr.MPR, unit mpr.Unit, freq time.Duration) *MPR {
	m := &MPR{sensor: sensor, unit: unit, running: true}
	go m.run(freq)
	return m
}

func (m *MPR) run(freq time.Duration) {
	clock := time.NewTicker(freq)
	defer clock.Stop()
	for m.isRunning() {
		<-clock.C

		press, err := m.sensor.ReadPressure(m.unit)

		m.mu.Lock()
		if err != nil || math.IsNaN(press) {
			m.failures++
			m.mu.Unlock()
			continue
		}
		m.failures = 0
		m.pressure = press
		m.mu.Unlock()

		if status, err := m.sensor.ReadStatus(); err == nil {
			m.mu.Lock()
			m.status = status
			m.mu.Unlock()
		}
	}
}

func (m *MPR) isRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Pressure returns the last pressure reading in the unit the wrapper was
// started with.
func (m *MPR) Pressure() (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return 0, errMPR
	}
	return m.pressure, nil
}

// Status returns the last raw status byte read from the sensor.
func (m *MPR) Status() (byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return 0, errMPR
	}
	return m.status, nil
}

// Failures returns how many samples in a row have failed. The daemon uses it
// to decide when the sensor is gone and a reconnect is due.
func (m *MPR) Failures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures
}

// Sensor returns the underlying driver, for runtime recalibration.
func (m *MPR) Sensor() *mpr.MPR {
	return m.sensor
}

// Close stops the measurements of the MPR.
func (m *MPR) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
}
