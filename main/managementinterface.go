/*
	managementinterface.go: HTTP + websocket management interface for mprd.
*/

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/net/websocket"

	"github.com/openpressure/mprd/mpr"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const managementAddr = ":8989"

type SettingMessage struct {
	Setting string `json:"setting"`
	Value   bool   `json:"state"`
}

type InfoMessage struct {
	*status
	*settings
}

func statusSender(conn *websocket.Conn) {
	timer := time.NewTicker(1 * time.Second)
	for {
		<-timer.C

		update, _ := json.Marshal(InfoMessage{status: &globalStatus, settings: &globalSettings})
		_, err := conn.Write(update)

		if err != nil {
			break
		}
	}
}

func handleManagementConnection(conn *websocket.Conn) {
	globalStatus.Connected_Users++
	defer func() { globalStatus.Connected_Users-- }()

	go statusSender(conn)

	for {
		var msg SettingMessage
		err := websocket.JSON.Receive(conn, &msg)
		if err == io.EOF {
			break
		} else if err != nil {
			log.Printf("handleManagementConnection: %s\n", err.Error())
		} else {
			if msg.Setting == "Sensor_Enabled" {
				globalSettings.Sensor_Enabled = msg.Value
			}
			if msg.Setting == "DataLog" {
				globalSettings.DataLog = msg.Value
			}
			if msg.Setting == "DEBUG" {
				globalSettings.DEBUG = msg.Value
			}

			saveSettings()
		}
	}
}

// AJAX call - /getStatus. Responds with the current daemon and sensor status.
func handleStatusRequest(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	statusJSON, _ := json.Marshal(&globalStatus)
	fmt.Fprintf(w, "%s\n", statusJSON)
}

// AJAX call - /getSettings. Responds with all mprd.conf data.
func handleSettingsGetRequest(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	settingsJSON, _ := json.Marshal(&globalSettings)
	fmt.Fprintf(w, "%s\n", settingsJSON)
}

// AJAX call - /setSettings. Receives via POST any subset of mprd.conf data.
// Most fields take effect on the next sensor (re)connect.
func handleSettingsSetRequest(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	newSettings := globalSettings
	if err := json.NewDecoder(r.Body).Decode(&newSettings); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	globalSettings = newSettings
	saveSettings()
	handleSettingsGetRequest(w, r)
}

// AJAX call - /getPressure. Responds with the last reading.
func handlePressureRequest(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	reading := struct {
		Pressure            float64
		PressureUnit        string
		SensorStatus        uint8
		LastMeasurementTime time.Time
		Age                 string
	}{
		Pressure:            globalStatus.Pressure,
		PressureUnit:        globalStatus.PressureUnit,
		SensorStatus:        globalStatus.SensorStatus,
		LastMeasurementTime: globalStatus.LastMeasurementTime,
		Age:                 mprClock.HumanizeTime(globalStatus.LastMeasurementTime),
	}
	readingJSON, _ := json.Marshal(&reading)
	fmt.Fprintf(w, "%s\n", readingJSON)
}

// AJAX call - /setZero. Reads the current raw counts off the sensor and makes
// them the zero-pressure calibration point. Call with the sensor vented to
// atmosphere (gauge parts) or under vacuum (absolute parts).
func handleZeroRequest(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if myPressureReader == nil || !globalStatus.Connected {
		http.Error(w, "sensor not connected", http.StatusServiceUnavailable)
		return
	}

	raw, err := myPressureReader.Sensor().ReadPressure(mpr.Raw)
	if err != nil || math.IsNaN(raw) {
		http.Error(w, "couldn't read zero point", http.StatusServiceUnavailable)
		return
	}

	zero := uint32(raw)
	myPressureReader.Sensor().SetZero(zero)
	globalSettings.ZeroCounts = zero
	saveSettings()

	log.Printf("zero point set to %d counts.\n", zero)
	fmt.Fprintf(w, "{\"ZeroCounts\": %d}\n", zero)
}

// AJAX call - /setCalFactor?value=<pressure per count>. Overrides the
// calibration factor, e.g. from a reading against a known water column.
func handleCalFactorRequest(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if myPressureReader == nil || !globalStatus.Connected {
		http.Error(w, "sensor not connected", http.StatusServiceUnavailable)
		return
	}

	calFac, err := strconv.ParseFloat(r.FormValue("value"), 64)
	if err != nil || calFac <= 0 {
		http.Error(w, "bad value", http.StatusBadRequest)
		return
	}

	myPressureReader.Sensor().SetCalFactor(calFac)
	globalSettings.CalFactor = calFac
	saveSettings()

	log.Printf("calibration factor set to %g.\n", calFac)
	fmt.Fprintf(w, "{\"CalFactor\": %g}\n", calFac)
}

func managementInterface() {
	http.HandleFunc("/control",
		func(w http.ResponseWriter, req *http.Request) {
			s := websocket.Server{
				Handler: websocket.Handler(handleManagementConnection)}
			s.ServeHTTP(w, req)
		})

	http.HandleFunc("/getStatus", handleStatusRequest)
	http.HandleFunc("/getSettings", handleSettingsGetRequest)
	http.HandleFunc("/setSettings", handleSettingsSetRequest)
	http.HandleFunc("/getPressure", handlePressureRequest)
	http.HandleFunc("/setZero", handleZeroRequest)
	http.HandleFunc("/setCalFactor", handleCalFactorRequest)
	http.Handle("/metrics", promhttp.Handler())

	err := http.ListenAndServe(managementAddr, nil)

	if err != nil {
		log.Printf("managementInterface ListenAndServe: %s\n", err.Error())
	}
}
