/*
	mprd.go: daemon entry point. Reads settings, brings up logging, metrics,
	the datalog, the serial stream, the sensor and the management interface,
	then waits on signals.
*/

package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/takama/daemon"

	"github.com/openpressure/mprd/common"
)

const (
	// name of the service
	name        = "mprd"
	description = "micro-pressure sensor logging daemon"
)

var mprdVersion = "dev" // overridden at link time

var stdlog, errlog *log.Logger

// Service has embedded daemon
type Service struct {
	daemon.Daemon
}

// Manage by daemon commands or run the daemon
func (service *Service) Manage() (string, error) {

	configFlag := flag.String("config", configLocation, "Location of the mprd config file")
	flag.Parse()
	configLocation = *configFlag

	usage := "Usage: " + name + " install | remove | start | stop | status"
	// if received any kind of command, do it
	if flag.NArg() > 0 {
		command := os.Args[flag.NFlag()+1]
		switch command {
		case "install":
			return service.Install()
		case "remove":
			return service.Remove()
		case "start":
			return service.Start()
		case "stop":
			return service.Stop()
		case "status":
			return service.Status()
		default:
			return usage, nil
		}
	}

	if !common.IsRunningAsRoot() {
		stdlog.Println("mprd needs root for I2C and GPIO access; readings may fail.")
	}

	readSettings()
	initLogging()

	log.Printf("mprd %s starting.\n", mprdVersion)

	globalStatus.Version = mprdVersion
	globalStatus.PressureUnit = globalSettings.PressureUnit
	mprClock = NewMonotonic()

	initMetrics()
	initDataLog()
	initSerialOutput()
	initI2CSensors()

	go common.CpuTempMonitor(func(cpuTemp float32) {
		if common.IsCPUTempValid(cpuTemp) {
			globalStatus.CPUTemp = cpuTemp
		}
	})

	go managementInterface()

	// Set up channel on which to send signal notifications.
	// We must use a buffered channel or risk missing the signal
	// if we're not ready to receive when the signal is sent.
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)

	for {
		killSignal := <-interrupt
		log.Println("Got signal:", killSignal)
		if killSignal == syscall.SIGUSR1 {
			readSettings()
			continue
		}
		if myPressureReader != nil && globalStatus.Connected {
			myPressureReader.Close()
		}
		if killSignal == syscall.SIGINT {
			return "Daemon was interrupted by system signal", nil
		}
		return "Daemon was killed", nil
	}
}

func init() {
	stdlog = log.New(os.Stdout, "", 0)
	errlog = log.New(os.Stderr, "", 0)
}

func main() {
	srv, err := daemon.New(name, description, daemon.SystemDaemon)
	if err != nil {
		errlog.Println("Error: ", err)
		os.Exit(1)
	}
	service := &Service{srv}
	status, err := service.Manage()
	if err != nil {
		errlog.Println(status, "\nError: ", err)
		os.Exit(1)
	}
	fmt.Println(status)
}
