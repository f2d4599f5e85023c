package main

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Initialize Prometheus metrics.
var (
	currentPressure = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "current_pressure",
		Help: "Last pressure reading in the configured unit.",
	})

	currentCPUTemp = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "current_cpu_temp",
		Help: "Current CPU temp.",
	})

	sensorReadCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sensor_reads_total",
		Help: "Total successful sensor reads.",
	})

	sensorErrorCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sensor_errors_total",
		Help: "Total failed sensor reads.",
	})

	totalUptime = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "total_uptime",
		Help: "Total uptime in seconds.",
	})
)

func initMetrics() {
	prometheus.MustRegister(currentPressure)
	prometheus.MustRegister(currentCPUTemp)
	prometheus.MustRegister(sensorReadCounter)
	prometheus.MustRegister(sensorErrorCounter)
	prometheus.MustRegister(totalUptime)

	go updateStats()
}

func updateStats() {
	updateTicker := time.NewTicker(1 * time.Second)
	for {
		<-updateTicker.C
		totalUptime.Inc()
		globalStatus.Uptime = mprClock.Unix()
		currentCPUTemp.Set(float64(globalStatus.CPUTemp))
	}
}
