/*
	datalog.go: log pressure readings to sqlite as they arrive. Bucket rows
	into timestamp time slots so replays can line readings up with other logs.
*/

package main

import (
	"database/sql"
	"fmt"
	"log"
	"reflect"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const LOG_TIMESTAMP_RESOLUTION = 50 * time.Millisecond

// PressureReading is the row layout of the "reading" table.
type PressureReading struct {
	id           int64
	Pressure     float64
	PressureUnit string
	SensorStatus uint
}

type DataLogTimestamp struct {
	id             int64
	Clock_value    time.Time
	Preferred_time time.Time
}

var dataLogTimestamp DataLogTimestamp // Current timestamp bucket.

/*
	checkTimestamp().
		Verify that our current timestamp is within the LOG_TIMESTAMP_RESOLUTION bucket.
		 Returns false if the timestamp was changed, true if it is still valid.
*/

func checkTimestamp() bool {
	if time.Since(dataLogTimestamp.Clock_value) >= LOG_TIMESTAMP_RESOLUTION {
		dataLogTimestamp.id = 0
		dataLogTimestamp.Clock_value = time.Now()
		dataLogTimestamp.Preferred_time = time.Now()
		return false
	}
	return true
}

type SQLiteMarshal struct {
	FieldType string
	Marshal   func(v reflect.Value) string
}

func boolMarshal(v reflect.Value) string {
	if v.Bool() {
		return "1"
	}
	return "0"
}

func structCanBeMarshalled(v reflect.Value) bool {
	m := v.MethodByName("String")
	return m.IsValid() && !m.IsNil()
}

func intMarshal(v reflect.Value) string {
	return strconv.FormatInt(v.Int(), 10)
}

func uintMarshal(v reflect.Value) string {
	return strconv.FormatUint(v.Uint(), 10)
}

func floatMarshal(v reflect.Value) string {
	return strconv.FormatFloat(v.Float(), 'f', 10, 64)
}

func stringMarshal(v reflect.Value) string {
	return v.String()
}

func notsupportedMarshal(v reflect.Value) string {
	return ""
}

func structMarshal(v reflect.Value) string {
	if structCanBeMarshalled(v) {
		m := v.MethodByName("String")
		ret := m.Call(nil)
		if len(ret) > 0 {
			return ret[0].String()
		}
	}
	return ""
}

var sqliteMarshalFunctions = map[string]SQLiteMarshal{
	"bool":         {FieldType: "INTEGER", Marshal: boolMarshal},
	"int":          {FieldType: "INTEGER", Marshal: intMarshal},
	"uint":         {FieldType: "INTEGER", Marshal: uintMarshal},
	"float":        {FieldType: "REAL", Marshal: floatMarshal},
	"string":       {FieldType: "TEXT", Marshal: stringMarshal},
	"struct":       {FieldType: "STRING", Marshal: structMarshal},
	"notsupported": {FieldType: "notsupported", Marshal: notsupportedMarshal},
}

var sqlTypeMap = map[reflect.Kind]string{
	reflect.Bool:          "bool",
	reflect.Int:           "int",
	reflect.Int8:          "int",
	reflect.Int16:         "int",
	reflect.Int32:         "int",
	reflect.Int64:         "int",
	reflect.Uint:          "uint",
	reflect.Uint8:         "uint",
	reflect.Uint16:        "uint",
	reflect.Uint32:        "uint",
	reflect.Uint64:        "uint",
	reflect.Uintptr:       "notsupported",
	reflect.Float32:       "float",
	reflect.Float64:       "float",
	reflect.Complex64:     "notsupported",
	reflect.Complex128:    "notsupported",
	reflect.Array:         "notsupported",
	reflect.Chan:          "notsupported",
	reflect.Func:          "notsupported",
	reflect.Interface:     "notsupported",
	reflect.Map:           "notsupported",
	reflect.Ptr:           "notsupported",
	reflect.Slice:         "notsupported",
	reflect.String:        "string",
	reflect.Struct:        "struct",
	reflect.UnsafePointer: "notsupported",
}

func makeTable(i interface{}, tbl string, db *sql.DB) error {
	val := reflect.ValueOf(i)

	fields := make([]string, 0)
	for i := 0; i < val.NumField(); i++ {
		kind := val.Field(i).Kind()
		fieldName := val.Type().Field(i).Name
		sqlTypeAlias := sqlTypeMap[kind]

		// Check that if the field is a struct that it can be marshalled.
		if sqlTypeAlias == "struct" && !structCanBeMarshalled(val.Field(i)) {
			continue
		}
		if sqlTypeAlias == "notsupported" || fieldName == "id" {
			continue
		}
		sqlType := sqliteMarshalFunctions[sqlTypeAlias].FieldType
		fields = append(fields, fieldName+" "+sqlType)
	}

	// Add the timestamp_id field to link up with the timestamp table.
	if tbl != "timestamp" {
		fields = append(fields, "timestamp_id INTEGER")
	}

	tblCreate := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT, %s)",
		tbl, strings.Join(fields, ", "))
	_, err := db.Exec(tblCreate)
	return err
}

func insertData(i interface{}, tbl string, db *sql.DB) int64 {
	checkTimestamp()
	val := reflect.ValueOf(i)

	keys := make([]string, 0)
	values := make([]string, 0)
	for i := 0; i < val.NumField(); i++ {
		kind := val.Field(i).Kind()
		fieldName := val.Type().Field(i).Name
		sqlTypeAlias := sqlTypeMap[kind]

		if sqlTypeAlias == "notsupported" || fieldName == "id" {
			continue
		}

		v := sqliteMarshalFunctions[sqlTypeAlias].Marshal(val.Field(i))

		keys = append(keys, fieldName)
		values = append(values, v)
	}

	// Add the timestamp_id field to link up with the timestamp table.
	if tbl != "timestamp" {
		keys = append(keys, "timestamp_id")
		values = append(values, strconv.FormatInt(dataLogTimestamp.id, 10))
	}

	tblInsert := fmt.Sprintf("INSERT INTO %s (%s) VALUES(%s)", tbl, strings.Join(keys, ","),
		strings.TrimRight(strings.Repeat("?,", len(keys)), ","))

	ifs := make([]interface{}, len(values))
	for i := 0; i < len(values); i++ {
		ifs[i] = values[i]
	}
	res, err := db.Exec(tblInsert, ifs...)
	if err != nil {
		log.Printf("datalog insert error: %s\n", err.Error())
		return 0
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0
	}
	return id
}

var dataLogChan chan PressureReading

func dataLogWriter() {
	db, err := sql.Open("sqlite3", globalSettings.DataLogFile)
	if err != nil {
		log.Printf("sql.Open(%s): %s\n", globalSettings.DataLogFile, err.Error())
		return
	}
	defer db.Close()

	if err := makeTable(DataLogTimestamp{}, "timestamp", db); err != nil {
		log.Printf("datalog: can't create timestamp table: %s\n", err.Error())
		return
	}
	if err := makeTable(PressureReading{}, "reading", db); err != nil {
		log.Printf("datalog: can't create reading table: %s\n", err.Error())
		return
	}

	for r := range dataLogChan {
		// Check if our time bucket has expired or has never been entered.
		if !checkTimestamp() || dataLogTimestamp.id == 0 {
			dataLogTimestamp.id = insertData(dataLogTimestamp, "timestamp", db)
		}
		insertData(r, "reading", db)
	}
}

func initDataLog() {
	dataLogChan = make(chan PressureReading, 10240)
	go dataLogWriter()
}

// logReading queues a reading for the writer. Readings are dropped rather
// than blocking the sensor loop when the writer falls behind.
func logReading(r PressureReading) {
	if !globalSettings.DataLog || dataLogChan == nil {
		return
	}
	select {
	case dataLogChan <- r:
	default:
	}
}
