/*
	serialout.go: stream readings as CSV lines to a serial device, for bench
	setups where a logger or PLC listens on an FTDI cable rather than the
	network.
*/

package main

import (
	"fmt"
	"log"
	"time"

	"github.com/tarm/serial"
)

var serialOutChan chan string

func initSerialOutput() {
	if globalSettings.SerialOutput == "" {
		return
	}

	config := &serial.Config{Name: globalSettings.SerialOutput, Baud: globalSettings.SerialBaud}
	port, err := serial.OpenPort(config)
	if err != nil {
		log.Printf("serial output: couldn't open %s: %s\n", globalSettings.SerialOutput, err.Error())
		return
	}
	log.Printf("serial output on %s at %d baud.\n", globalSettings.SerialOutput, globalSettings.SerialBaud)

	serialOutChan = make(chan string, 1024)
	go func() {
		defer port.Close()
		for line := range serialOutChan {
			if _, err := port.Write([]byte(line)); err != nil {
				log.Printf("serial output write: %s\n", err.Error())
				return
			}
		}
	}()
}

// serialOutReading queues one CSV line, dropping it if the port is behind.
func serialOutReading(press float64, unit string, status byte) {
	if serialOutChan == nil {
		return
	}
	line := fmt.Sprintf("%s,%.6f,%s,%#02x\r\n",
		time.Now().UTC().Format(time.RFC3339Nano), press, unit, status)
	select {
	case serialOutChan <- line:
	default:
	}
}
