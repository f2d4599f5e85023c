/*
	sensors.go: connect to the pressure sensor over I2C, keep it connected,
	fan readings out to status, datalog, serial and metrics.
*/

package main

import (
	"log"
	"math"
	"time"

	"github.com/kidoman/embd"
	_ "github.com/kidoman/embd/host/all"

	"github.com/openpressure/mprd/mpr"
	"github.com/openpressure/mprd/sensors"
)

const numRetries uint8 = 5

var (
	i2cbus           embd.I2CBus
	myPressureReader *sensors.MPR
)

func initI2CSensors() {
	i2cbus = embd.NewI2CBus(globalSettings.I2CBusNum)

	go pollSensors()
}

// pollSensors retries the sensor connection every few seconds for as long as
// the sensor is enabled but not connected.
func pollSensors() {
	timer := time.NewTicker(4 * time.Second)
	for {
		if globalSettings.Sensor_Enabled && !globalStatus.Connected {
			log.Println("MPR Info: attempting pressure sensor connection.")
			globalStatus.Connected = initPressureSensor()
			if globalStatus.Connected {
				go pressureSender()
			}
		}
		<-timer.C
	}
}

func initPressureSensor() (ok bool) {
	cfg := mpr.Config{
		MinPSI:      globalSettings.MinPSI,
		MaxPSI:      globalSettings.MaxPSI,
		Transfer:    mpr.ParseTransferFunction(globalSettings.TransferFunction),
		PollTimeout: time.Duration(globalSettings.PollTimeoutMs) * time.Millisecond,
	}

	if globalSettings.EOCPin >= 0 {
		pin, err := embd.NewDigitalPin(globalSettings.EOCPin)
		if err != nil {
			log.Printf("MPR Error: couldn't open EOC pin %d: %s\n", globalSettings.EOCPin, err.Error())
			return false
		}
		cfg.EOC = pin
	}
	if globalSettings.RSTPin >= 0 {
		pin, err := embd.NewDigitalPin(globalSettings.RSTPin)
		if err != nil {
			log.Printf("MPR Error: couldn't open RST pin %d: %s\n", globalSettings.RSTPin, err.Error())
			return false
		}
		cfg.RST = pin
	}

	d := mpr.New(cfg)
	if !d.Begin(globalSettings.SensorAddress, i2cbus) {
		log.Printf("MPR Error: no sensor at address %#02x on bus %d.\n",
			globalSettings.SensorAddress, globalSettings.I2CBusNum)
		return false
	}

	// Re-apply any calibration measured on a previous run.
	if globalSettings.ZeroCounts != 0 {
		d.SetZero(globalSettings.ZeroCounts)
	}
	if globalSettings.CalFactor != 0 {
		d.SetCalFactor(globalSettings.CalFactor)
	}

	unit := mpr.ParseUnit(globalSettings.PressureUnit)
	myPressureReader = sensors.NewMPR(d, unit,
		time.Duration(globalSettings.PollIntervalMs)*time.Millisecond)
	log.Printf("MPR Info: successfully initialized MPR (transfer function %s, %g..%g PSI).\n",
		globalSettings.TransferFunction, globalSettings.MinPSI, globalSettings.MaxPSI)
	return true
}

// pressureSender publishes readings for as long as the sensor stays enabled
// and connected. After numRetries consecutive bad samples the wrapper is
// closed and pollSensors takes over reconnecting.
func pressureSender() {
	var failnum uint8

	timer := time.NewTicker(time.Duration(globalSettings.PollIntervalMs) * time.Millisecond)
	defer timer.Stop()
	for globalSettings.Sensor_Enabled && globalStatus.Connected {
		<-timer.C

		press, err := myPressureReader.Pressure()
		if err != nil || math.IsNaN(press) || myPressureReader.Failures() > 0 {
			globalStatus.SensorErrors++
			sensorErrorCounter.Inc()
			failnum++
			if failnum > numRetries {
				log.Printf("MPR Error: couldn't read pressure %d times, closing sensor.\n", failnum)
				myPressureReader.Close()
				globalStatus.Connected = false // Try reconnecting a little later
				break
			}
			continue
		}
		failnum = 0

		status, _ := myPressureReader.Status()

		globalStatus.Pressure = press
		globalStatus.PressureUnit = globalSettings.PressureUnit
		globalStatus.SensorStatus = status
		globalStatus.LastMeasurementTime = mprClock.Time
		globalStatus.SensorReads++

		currentPressure.Set(press)
		sensorReadCounter.Inc()

		logReading(PressureReading{
			Pressure:     press,
			PressureUnit: globalSettings.PressureUnit,
			SensorStatus: uint(status),
		})
		serialOutReading(press, globalSettings.PressureUnit, status)

		logDbg("read pressure: %f %s (status %#02x)", press, globalSettings.PressureUnit, status)
	}
}
