package common

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const InvalidCpuTemp = float32(-99.0)

type CpuTempUpdateFunc func(cpuTemp float32)

/* CpuTempMonitor reads the SBC board temperature every second and calls a
callback. This runs as its own goroutine because reading the thermal zone
file can hang for quite some time on some boards. */

func CpuTempMonitor(updater CpuTempUpdateFunc) {
	timer := time.NewTicker(1 * time.Second)
	for {
		temp, err := os.ReadFile("/sys/class/thermal/thermal_zone0/temp")
		tempStr := strings.Trim(string(temp), "\n")
		t := InvalidCpuTemp
		if err == nil {
			tInt, err := strconv.Atoi(tempStr)
			if err == nil {
				if tInt > 1000 {
					t = float32(tInt) / float32(1000.0)
				} else {
					t = float32(tInt) // case where temp is returned as a simple integer
				}
			}
		}
		if IsCPUTempValid(t) {
			updater(t)
		}
		<-timer.C
	}
}

// IsCPUTempValid checks a CPU temperature reading. Assume <= 0 is invalid.
func IsCPUTempValid(cpuTemp float32) bool {
	return cpuTemp > 0
}
