/*
	settings.go: mprd runtime settings, persisted as JSON in mprd.conf.
*/

package main

import (
	"encoding/json"
	"log"
	"os"
	"time"
)

var configLocation = "/boot/mprd.conf"

type settings struct {
	Sensor_Enabled   bool
	I2CBusNum        byte
	SensorAddress    byte
	TransferFunction string  // "A", "B" or "C", per the part's datasheet
	MinPSI           float64 // rated range of the part, always in PSI
	MaxPSI           float64
	EOCPin           int // GPIO key of the end-of-conversion input, -1 = not wired
	RSTPin           int // GPIO key of the reset output, -1 = not wired
	PollTimeoutMs    int // bound on the conversion busy-wait
	PollIntervalMs   int // how often a reading is taken
	PressureUnit     string
	ZeroCounts       uint32  // measured zero-pressure counts, 0 = use the transfer function's nominal value
	CalFactor        float64 // measured pressure-per-count, 0 = use the derived value
	DataLog          bool
	DataLogFile      string
	SerialOutput     string // serial device readings are streamed to as CSV, "" = off
	SerialBaud       int
	DEBUG            bool
}

type status struct {
	Version   string
	Connected bool
	Pressure  float64
	// Tagged so it survives the InfoMessage merge with settings, which
	// carries a PressureUnit field of its own.
	PressureUnit        string `json:"PressureUnit"`
	SensorStatus        uint8  // raw status byte of the last reading
	LastMeasurementTime time.Time
	SensorReads         uint
	SensorErrors        uint
	Connected_Users     uint
	Uptime              int64
	CPUTemp             float32
}

var globalSettings settings
var globalStatus status

func defaultSettings() {
	globalSettings.Sensor_Enabled = true
	globalSettings.I2CBusNum = 1
	globalSettings.SensorAddress = 0x18
	globalSettings.TransferFunction = "A"
	globalSettings.MinPSI = 0
	globalSettings.MaxPSI = 25
	globalSettings.EOCPin = -1
	globalSettings.RSTPin = -1
	globalSettings.PollTimeoutMs = 500
	globalSettings.PollIntervalMs = 100
	globalSettings.PressureUnit = "psi"
	globalSettings.DataLog = false
	globalSettings.DataLogFile = "/var/log/mprd/mprd.sqlite"
	globalSettings.SerialOutput = ""
	globalSettings.SerialBaud = 115200
	globalSettings.DEBUG = false
}

func readSettings() {
	fd, err := os.Open(configLocation)
	defer fd.Close()
	if err != nil {
		log.Printf("can't read settings %s: %s\n", configLocation, err.Error())
		defaultSettings()
		return
	}
	buf := make([]byte, 4096)
	count, err := fd.Read(buf)
	if err != nil {
		log.Printf("can't read settings %s: %s\n", configLocation, err.Error())
		defaultSettings()
		return
	}
	var newSettings settings
	err = json.Unmarshal(buf[0:count], &newSettings)
	if err != nil {
		log.Printf("can't read settings %s: %s\n", configLocation, err.Error())
		defaultSettings()
		return
	}
	globalSettings = newSettings
	log.Printf("read in settings.\n")
}

func saveSettings() {
	fd, err := os.OpenFile(configLocation, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(0644))
	defer fd.Close()
	if err != nil {
		log.Printf("can't save settings %s: %s\n", configLocation, err.Error())
		return
	}
	jsonSettings, _ := json.Marshal(&globalSettings)
	fd.Write(jsonSettings)
	log.Printf("wrote settings.\n")
}
