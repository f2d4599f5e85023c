// Package sensors provides the mprd-facing interface to pressure sensors.
package sensors

// PressureReader provides an interface to a sensor reading pressure, like the
// Honeywell MPR.
type PressureReader interface {
	Pressure() (press float64, pressError error) // Pressure returns the last pressure reading in the configured unit.
	Status() (status byte, statusError error)    // Status returns the last raw status byte seen on the sensor.
	Close()                                      // Close stops reading from the sensor.
}
