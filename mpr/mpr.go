package mpr

import (
	"errors"
	"math"
	"time"

	"github.com/kidoman/embd"
)

var (
	// ErrTimeout is returned when the sensor keeps reporting busy past the
	// configured poll timeout.
	ErrTimeout = errors.New("mpr: timed out waiting for conversion")
)

const (
	defaultPollTimeout = 500 * time.Millisecond
	pollDelay          = 1 * time.Millisecond
	resetSettle        = 5 * time.Millisecond
)

// Config holds the construction parameters of an MPR. The rated pressure
// range must be given in PSI regardless of the unit readings are requested
// in later; the datasheet lists the range of every variant in PSI.
type Config struct {
	MinPSI   float64
	MaxPSI   float64
	Transfer TransferFunction

	// EOC is the end-of-conversion input, high once a triggered measurement
	// has completed. Optional; without it the status byte is polled instead.
	EOC embd.DigitalPin
	// RST is the sensor reset output. Optional; when present Begin pulses it
	// before probing the device.
	RST embd.DigitalPin

	// PollTimeout bounds the busy wait for a conversion. Zero selects a
	// 500ms default, far above the few ms a conversion takes.
	PollTimeout time.Duration
}

// MPR wraps the I2C connection and calibration state for one MPR sensor.
// An MPR owns its bus handle for the duration of every call; concurrent
// callers must serialize access themselves.
type MPR struct {
	Bus     embd.I2CBus
	Address byte

	eoc         embd.DigitalPin
	rst         embd.DigitalPin
	pollTimeout time.Duration

	minPsi    float64
	maxPsi    float64
	deltaPsi  float64
	calFactor float64

	minCounts   uint32
	maxCounts   uint32
	deltaCounts uint32
}

// New returns a driver configured for the given transfer function and rated
// pressure range. The calibration endpoints are fixed per transfer function;
// an unknown selector falls back to TransferA.
func New(config Config) *MPR {
	d := &MPR{
		Address:     Address,
		eoc:         config.EOC,
		rst:         config.RST,
		pollTimeout: config.PollTimeout,
		minPsi:      config.MinPSI,
		maxPsi:      config.MaxPSI,
	}
	if d.pollTimeout <= 0 {
		d.pollTimeout = defaultPollTimeout
	}

	switch config.Transfer {
	case TransferB:
		d.minCounts, d.maxCounts = minCountsB, maxCountsB
	case TransferC:
		d.minCounts, d.maxCounts = minCountsC, maxCountsC
	default:
		d.minCounts, d.maxCounts = minCountsA, maxCountsA
	}
	d.deltaCounts = d.maxCounts - d.minCounts
	d.deltaPsi = d.maxPsi - d.minPsi
	d.calFactor = d.deltaPsi / float64(d.deltaCounts)

	return d
}

// Begin sets up the optional signal pins, pulses reset if wired, and probes
// the device address. It returns whether a sensor answered; a missing sensor
// is not an error, the caller decides whether to retry.
func (d *MPR) Begin(address byte, bus embd.I2CBus) bool {
	d.Address = address
	d.Bus = bus

	if d.eoc != nil {
		if err := d.eoc.SetDirection(embd.In); err != nil {
			return false
		}
	}
	if d.rst != nil {
		if err := d.rst.SetDirection(embd.Out); err != nil {
			return false
		}
		d.rst.Write(embd.Low)
		time.Sleep(resetSettle)
		d.rst.Write(embd.High)
		time.Sleep(resetSettle)
	}

	return d.Connected()
}

// Connected probes the device address with an empty write and reports whether
// the transfer was acknowledged.
func (d *MPR) Connected() bool {
	return d.Bus.WriteBytes(d.Address, nil) == nil
}

// ReadStatus reads the raw status byte. Check it against FlagBusy,
// FlagIntegrity and FlagMathSat.
func (d *MPR) ReadStatus() (byte, error) {
	buf, err := d.Bus.ReadBytes(d.Address, 1)
	if err != nil {
		return 0, err
	}
	return buf[0], nil
}

// ReadPressure triggers a one-shot conversion, waits for it to complete and
// returns the result converted to the requested unit. A measurement with the
// integrity or math saturation flag set returns NaN regardless of the data
// bytes. Transport failures and a conversion outlasting the poll timeout are
// returned as errors.
func (d *MPR) ReadPressure(units Unit) (float64, error) {
	if err := d.Bus.WriteBytes(d.Address, []byte{cmdOutput, 0x00, 0x00}); err != nil {
		return 0, err
	}

	if err := d.waitConversion(); err != nil {
		return 0, err
	}

	buf, err := d.Bus.ReadBytes(d.Address, 4)
	if err != nil {
		return 0, err
	}

	// Fault flags win over whatever is in the data bytes.
	if buf[0]&(FlagIntegrity|FlagMathSat) != 0 {
		return math.NaN(), nil
	}

	counts := uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
	if units == Raw {
		return float64(counts), nil
	}

	pressure := float64(int32(counts)-int32(d.minCounts))*d.calFactor + d.minPsi
	switch units {
	case Pa:
		return pressure * psiToPa, nil
	case KPa:
		return pressure * psiToKPa, nil
	case Torr:
		return pressure * psiToTorr, nil
	case InHg:
		return pressure * psiToInHg, nil
	case Atm:
		return pressure * psiToAtm, nil
	case Bar:
		return pressure * psiToBar, nil
	}
	return pressure, nil
}

// waitConversion blocks until the triggered conversion completes, using the
// EOC pin when wired and the status byte otherwise. A status byte of 0xFF
// ends the wait early: that is the bus reading back empty, and the fault
// check on the result read reports the absent sensor as NaN.
func (d *MPR) waitConversion() error {
	deadline := time.Now().Add(d.pollTimeout)

	if d.eoc != nil {
		for {
			v, err := d.eoc.Read()
			if err != nil {
				return err
			}
			if v == embd.High {
				return nil
			}
			if time.Now().After(deadline) {
				return ErrTimeout
			}
			time.Sleep(pollDelay)
		}
	}

	for {
		status, err := d.ReadStatus()
		if err != nil {
			return err
		}
		if status&FlagBusy == 0 || status == statusAbsent {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrTimeout
		}
		time.Sleep(pollDelay)
	}
}

// SetZero overrides the minimum-pressure calibration point with a count value
// measured at zero pressure. The transfer function endpoints are nominal;
// reading the sensor vented to atmosphere and feeding the raw count back in
// here removes the per-part offset.
func (d *MPR) SetZero(zero uint32) {
	d.minCounts = zero
	d.deltaCounts = d.maxCounts - d.minCounts
	d.calFactor = d.deltaPsi / float64(d.deltaCounts)
}

// SetCalFactor overrides the pressure-per-count scale directly, for example
// from a reading against a water column of known height. The span and maximum
// pressure are re-derived from it; the minimum pressure stays fixed.
func (d *MPR) SetCalFactor(calFac float64) {
	d.calFactor = calFac
	d.deltaPsi = d.calFactor * float64(d.deltaCounts)
	d.maxPsi = d.minPsi + d.deltaPsi
}

// CalFactor returns the current pressure-per-count scale in PSI.
func (d *MPR) CalFactor() float64 { return d.calFactor }

// MinCounts returns the count value mapped to the minimum rated pressure.
func (d *MPR) MinCounts() uint32 { return d.minCounts }

// MaxCounts returns the count value mapped to the maximum rated pressure.
func (d *MPR) MaxCounts() uint32 { return d.maxCounts }

// DeltaCounts returns the count span between the calibration endpoints.
func (d *MPR) DeltaCounts() uint32 { return d.deltaCounts }

// Range returns the rated pressure range in PSI.
func (d *MPR) Range() (min, max float64) { return d.minPsi, d.maxPsi }
