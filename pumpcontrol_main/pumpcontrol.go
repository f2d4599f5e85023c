package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/felixge/pidctrl"
	"github.com/kidoman/embd"
	_ "github.com/kidoman/embd/host/all"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stianeikeland/go-rpio/v4"
	"github.com/takama/daemon"

	"github.com/openpressure/mprd/mpr"
)

// Initialize Prometheus metrics.
var (
	currentPressure = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "current_pressure",
		Help: "Current pressure, PSI.",
	})

	currentPWM = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "current_pwm",
		Help: "Current PWM Value",
	})

	totalPumpOnTime = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "total_pump_on_time",
			Help: "Total pump run time.",
		},
		[]string{"all"},
	)

	totalUptime = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "total_uptime",
			Help: "Total uptime.",
		},
		[]string{"all"},
	)
)

const (
	configLocation = "/boot/pumpcontrol.conf"

	// Pressure target, PSI
	defaultPressureTarget = 10.

	/* Minimum duty cycle in % is the point below which the pump */
	/* stalls instead of turning */
	defaultPwmDutyMin = 20

	/* Maximum duty for PWM controller */
	pwmDutyMax       = 100
	pwmPumpFrequency = 3000

	// Pressure at which we stop regulating and shut the pump off outright,
	// as a fraction of the sensor's rated maximum.
	cutoffFraction = 0.95

	// how often to update
	updateDelayMS = 1000

	// start delay of the pump: kick it at full duty so it overcomes static
	// friction before settling down to the regulated duty
	pumpKickStartDelay = 500

	// GPIO-1/BCM "18"/Pin 12 on a Rev 2 and 3,4 Raspberry Pi
	defaultPin = 18

	// name of the service
	name        = "pumpcontrol"
	description = "pump speed control to hold a target pressure"

	// Address on which daemon should be listen.
	addr = ":9978"
)

type PumpControl struct {
	PressureTarget     float64
	PressureCurrent    float64
	PWMDutyMin         uint32
	PumpKickStartDelay uint32
	PWMDutyCurrent     uint32
	PWMPin             int
	I2CBusNum          byte
	SensorAddress      byte
	TransferFunction   string
	MinPSI             float64
	MaxPSI             float64
}

var myPumpControl PumpControl

var configChan = make(chan bool, 1)

var stdlog, errlog *log.Logger

func updateStats() {
	updateTicker := time.NewTicker(1 * time.Second)
	for {
		<-updateTicker.C
		totalUptime.With(prometheus.Labels{"all": "all"}).Inc()
		currentPressure.Set(myPumpControl.PressureCurrent)
		currentPWM.Set(float64(myPumpControl.PWMDutyCurrent))
		if myPumpControl.PWMDutyCurrent > 0 {
			totalPumpOnTime.With(prometheus.Labels{"all": "all"}).Inc()
		}
	}
}

func fmap(x, in_min, in_max, out_min, out_max float64) float64 {
	return (x-in_min)*(out_max-out_min)/(in_max-in_min) + out_min
}

// pressureMonitor reads the sensor on its own ticker and hands good readings
// to a callback. Bad samples (NaN from a fault, transport errors) are skipped;
// the PID simply keeps working from the last value.
func pressureMonitor(updater func(press float64)) {
	bus := embd.NewI2CBus(myPumpControl.I2CBusNum)

	sensor := mpr.New(mpr.Config{
		MinPSI:   myPumpControl.MinPSI,
		MaxPSI:   myPumpControl.MaxPSI,
		Transfer: mpr.ParseTransferFunction(myPumpControl.TransferFunction),
	})
	for !sensor.Begin(myPumpControl.SensorAddress, bus) {
		log.Printf("no pressure sensor at %#02x, retrying.\n", myPumpControl.SensorAddress)
		time.Sleep(4 * time.Second)
	}

	timer := time.NewTicker(100 * time.Millisecond)
	for {
		<-timer.C
		press, err := sensor.ReadPressure(mpr.PSI)
		if err != nil || math.IsNaN(press) {
			continue
		}
		updater(press)
	}
}

func pumpControl() {
	myPumpControl.PumpKickStartDelay = pumpKickStartDelay
	myPumpControl.PressureCurrent = 0
	myPumpControl.PWMDutyCurrent = 0
	updateControlDelay := time.NewTicker(updateDelayMS * time.Millisecond)

	// Monitor pressure
	go pressureMonitor(func(press float64) {
		myPumpControl.PressureCurrent = press
	})

	// Open Raspberry GPIO pins
	err := rpio.Open()
	if err != nil {
		os.Exit(1)
	}
	defer rpio.Close()

	// Set PWM Mode
	pin := rpio.Pin(myPumpControl.PWMPin)
	pin.Mode(rpio.Pwm)
	pin.Freq(pwmPumpFrequency)

	// Calculate the dutyCycle to the hardware value
	dutyCycleToHW := func(dutyCycle float64) uint32 {
		mappedMinimum := fmap(float64(myPumpControl.PWMDutyMin), 0.0, 100.0, 0, float64(pwmDutyMax))
		return uint32(math.Ceil(fmap(dutyCycle, 0.0, 100.0, mappedMinimum, float64(pwmDutyMax))))
	}

	// Start Prometheus
	prometheus.MustRegister(currentPressure)
	prometheus.MustRegister(currentPWM)
	prometheus.MustRegister(totalPumpOnTime)
	prometheus.MustRegister(totalUptime)
	go updateStats()

	// Create a PID controller
	pidControl := pidctrl.NewPIDController(8.0, 2.0, 0.5)
	pidControl.SetOutputLimits(0, 100.0)
	pidControl.Set(myPumpControl.PressureTarget)

	cutoff := myPumpControl.MaxPSI * cutoffFraction

	var lastPWMControlValue float64 = 0.0
	for {
		// Update the PID controller.
		pidValueOut := pidControl.UpdateDuration(myPumpControl.PressureCurrent, updateDelayMS*time.Millisecond)

		// Never regulate past the rated range of the sensor.
		if myPumpControl.PressureCurrent >= cutoff {
			log.Println("pressure", myPumpControl.PressureCurrent, "above cutoff", cutoff, "- pump off")
			pidValueOut = 0
		}

		// If the pump is starting up from standstill, kick it at full duty
		// for PumpKickStartDelay so it overcomes static friction.
		if lastPWMControlValue <= 5.0 && pidValueOut > 5.0 {
			log.Println("kick starting pump for", myPumpControl.PumpKickStartDelay, "ms")
			myPumpControl.PWMDutyCurrent = 100
			pin.DutyCycle(pwmDutyMax, pwmDutyMax)
			time.Sleep(time.Duration(myPumpControl.PumpKickStartDelay) * time.Millisecond)
		}

		var pwmDutyMapped uint32 = 0
		if pidValueOut > 5.0 {
			pwmDutyMapped = dutyCycleToHW(pidValueOut)
			myPumpControl.PWMDutyCurrent = uint32(pidValueOut)
		} else {
			myPumpControl.PWMDutyCurrent = 0
		}
		pin.DutyCycle(pwmDutyMapped, pwmDutyMax)

		lastPWMControlValue = pidValueOut

		select {
		case <-updateControlDelay.C:
		case <-configChan:
			pidControl.Set(myPumpControl.PressureTarget)
			cutoff = myPumpControl.MaxPSI * cutoffFraction
			// set lastPWMControlValue so we go through a kick start cycle
			lastPWMControlValue = 0
		}
	}
}

// Service has embedded daemon
type Service struct {
	daemon.Daemon
}

// Manage by daemon commands or run the daemon
func (service *Service) Manage() (string, error) {

	pressureTarget := flag.Float64("pressure", defaultPressureTarget, "Target pressure, PSI")
	pwmDutyMin := flag.Int("minduty", defaultPwmDutyMin, "Minimum PWM duty cycle")
	pin := flag.Int("pin", defaultPin, "PWM pin (BCM numbering)")
	flag.Parse()

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

	myPumpControl.PressureTarget = *pressureTarget
	myPumpControl.PWMDutyMin = uint32(*pwmDutyMin)
	myPumpControl.PWMPin = *pin
	myPumpControl.I2CBusNum = 1
	myPumpControl.SensorAddress = mpr.Address
	myPumpControl.TransferFunction = "A"
	myPumpControl.MinPSI = 0
	myPumpControl.MaxPSI = 25

	readSettings()

	go pumpControl()

	// Set up channel on which to send signal notifications.
	// We must use a buffered channel or risk missing the signal
	// if we're not ready to receive when the signal is sent.
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)

	http.HandleFunc("/", handleStatusRequest)
	http.Handle("/metrics", promhttp.Handler())
	go http.ListenAndServe(addr, nil)

	// interrupt by system signal
	for {
		killSignal := <-interrupt
		log.Println("Got signal:", killSignal)
		if killSignal == syscall.SIGINT {
			return "Daemon was interrupted by system signal", nil
		} else if killSignal == syscall.SIGUSR1 {
			readSettings()
			configChan <- true
		} else {
			return "Daemon was killed", nil
		}
	}
}

func readSettings() {
	fd, err := os.Open(configLocation)
	if err != nil {
		log.Printf("can't read settings %s: %s\n", configLocation, err.Error())
		return
	}
	defer fd.Close()
	buf := make([]byte, 4096)
	count, err := fd.Read(buf)
	if err != nil {
		log.Printf("can't read settings %s: %s\n", configLocation, err.Error())
		return
	}
	err = json.Unmarshal(buf[0:count], &myPumpControl)
	if err != nil {
		log.Printf("can't read settings %s: %s\n", configLocation, err.Error())
		return
	}
	log.Printf("read in settings.\n")
}

func handleStatusRequest(w http.ResponseWriter, r *http.Request) {
	statusJSON, _ := json.Marshal(&myPumpControl)
	w.Write(statusJSON)
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
