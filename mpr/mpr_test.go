package mpr

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/kidoman/embd"
)

// fakeBus implements embd.I2CBus against canned data. One-byte reads walk
// through status, sticking on the last entry; four-byte reads return result.
type fakeBus struct {
	writes   [][]byte
	status   []byte
	statusAt int
	result   []byte
	writeErr error
	readErr  error
}

func (b *fakeBus) WriteBytes(addr byte, value []byte) error {
	if b.writeErr != nil {
		return b.writeErr
	}
	b.writes = append(b.writes, append([]byte(nil), value...))
	return nil
}

func (b *fakeBus) ReadBytes(addr byte, num int) ([]byte, error) {
	if b.readErr != nil {
		return nil, b.readErr
	}
	if num == 1 {
		s := b.status[b.statusAt]
		if b.statusAt < len(b.status)-1 {
			b.statusAt++
		}
		return []byte{s}, nil
	}
	return append([]byte(nil), b.result...), nil
}

func (b *fakeBus) ReadByte(addr byte) (byte, error)                  { return 0, nil }
func (b *fakeBus) WriteByte(addr, value byte) error                  { return nil }
func (b *fakeBus) ReadFromReg(addr, reg byte, value []byte) error    { return nil }
func (b *fakeBus) ReadByteFromReg(addr, reg byte) (byte, error)      { return 0, nil }
func (b *fakeBus) ReadWordFromReg(addr, reg byte) (uint16, error)    { return 0, nil }
func (b *fakeBus) WriteToReg(addr, reg byte, value []byte) error     { return nil }
func (b *fakeBus) WriteByteToReg(addr, reg, value byte) error        { return nil }
func (b *fakeBus) WriteWordToReg(addr, reg byte, value uint16) error { return nil }
func (b *fakeBus) Close() error                                      { return nil }

// fakePin implements embd.DigitalPin, reading out reads one value at a time
// and recording writes.
type fakePin struct {
	reads   []int
	readAt  int
	writes  []int
	dirs    []embd.Direction
	readErr error
}

func (p *fakePin) Read() (int, error) {
	if p.readErr != nil {
		return 0, p.readErr
	}
	v := p.reads[p.readAt]
	if p.readAt < len(p.reads)-1 {
		p.readAt++
	}
	return v, nil
}

func (p *fakePin) Write(val int) error {
	p.writes = append(p.writes, val)
	return nil
}

func (p *fakePin) SetDirection(dir embd.Direction) error {
	p.dirs = append(p.dirs, dir)
	return nil
}

func (p *fakePin) N() int                                     { return 0 }
func (p *fakePin) TimePulse(state int) (time.Duration, error) { return 0, nil }
func (p *fakePin) ActiveLow(b bool) error                     { return nil }
func (p *fakePin) PullUp() error                              { return nil }
func (p *fakePin) PullDown() error                            { return nil }
func (p *fakePin) Close() error                               { return nil }

func (p *fakePin) Watch(edge embd.Edge, handler func(embd.DigitalPin)) error { return nil }
func (p *fakePin) StopWatching() error                                       { return nil }

var (
	_ embd.I2CBus     = (*fakeBus)(nil)
	_ embd.DigitalPin = (*fakePin)(nil)
)

// resultBytes encodes a status byte plus a 24-bit big-endian count the way
// the sensor answers a 4-byte read.
func resultBytes(status byte, counts uint32) []byte {
	return []byte{status, byte(counts >> 16), byte(counts >> 8), byte(counts)}
}

func approx(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

func TestCalibrationTable(t *testing.T) {
	cases := []struct {
		tf                   TransferFunction
		minCounts, maxCounts uint32
	}{
		{TransferA, 1677722, 15099494},
		{TransferB, 419430, 3774874},
		{TransferC, 3355443, 13421773},
		{TransferFunction('?'), 1677722, 15099494}, // unknown selector falls back to A
	}
	for _, c := range cases {
		d := New(Config{MinPSI: 0, MaxPSI: 25, Transfer: c.tf})
		if d.MinCounts() != c.minCounts || d.MaxCounts() != c.maxCounts {
			t.Errorf("%c: counts = %d..%d, want %d..%d",
				c.tf, d.MinCounts(), d.MaxCounts(), c.minCounts, c.maxCounts)
		}
		wantDelta := c.maxCounts - c.minCounts
		if d.DeltaCounts() != wantDelta {
			t.Errorf("%c: deltaCounts = %d, want %d", c.tf, d.DeltaCounts(), wantDelta)
		}
		wantCal := 25.0 / float64(wantDelta)
		if d.CalFactor() != wantCal {
			t.Errorf("%c: calFactor = %g, want %g", c.tf, d.CalFactor(), wantCal)
		}
	}
}

func TestReadPressureEndpoints(t *testing.T) {
	cases := []struct {
		name   string
		tf     TransferFunction
		minPsi float64
		maxPsi float64
		counts uint32
		units  Unit
		want   float64
	}{
		{"A max counts", TransferA, 0, 25, 15099494, PSI, 25},
		{"A min counts", TransferA, 0, 25, 1677722, PSI, 0},
		{"B min counts", TransferB, 0, 5.80104, 419430, PSI, 0},
		{"B min counts torr", TransferB, 0, 5.80104, 419430, Torr, 0},
		{"C max counts", TransferC, 0, 30, 13421773, PSI, 30},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			d := New(Config{MinPSI: c.minPsi, MaxPSI: c.maxPsi, Transfer: c.tf})
			bus := &fakeBus{status: []byte{0x00}, result: resultBytes(0x00, c.counts)}
			if !d.Begin(Address, bus) {
				t.Fatal("Begin failed")
			}
			got, err := d.ReadPressure(c.units)
			if err != nil {
				t.Fatalf("ReadPressure: %v", err)
			}
			if !approx(got, c.want, 1e-9) {
				t.Errorf("pressure = %v, want %v", got, c.want)
			}
		})
	}
}

func TestUnitConversions(t *testing.T) {
	// minPsi of 1 with the count pinned at minCounts makes the PSI-equivalent
	// pressure exactly 1.0, so every unit conversion returns its bare factor.
	cases := []struct {
		units Unit
		want  float64
	}{
		{PSI, 1.0},
		{Pa, 6894.7573},
		{KPa, 6.89476},
		{Torr, 51.7149},
		{InHg, 2.03602},
		{Atm, 0.06805},
		{Bar, 0.06895},
	}
	for _, c := range cases {
		t.Run(c.units.String(), func(t *testing.T) {
			d := New(Config{MinPSI: 1, MaxPSI: 26, Transfer: TransferA})
			bus := &fakeBus{status: []byte{0x00}, result: resultBytes(0x00, d.MinCounts())}
			d.Begin(Address, bus)
			got, err := d.ReadPressure(c.units)
			if err != nil {
				t.Fatalf("ReadPressure: %v", err)
			}
			if got != c.want {
				t.Errorf("pressure = %v, want %v", got, c.want)
			}
		})
	}
}

func TestRawUnit(t *testing.T) {
	d := New(Config{MinPSI: 0, MaxPSI: 25, Transfer: TransferA})
	bus := &fakeBus{status: []byte{0x00}, result: resultBytes(0x00, 0xBEEF42)}
	d.Begin(Address, bus)
	got, err := d.ReadPressure(Raw)
	if err != nil {
		t.Fatalf("ReadPressure: %v", err)
	}
	if got != float64(0xBEEF42) {
		t.Errorf("raw = %v, want %v", got, float64(0xBEEF42))
	}
}

func TestFaultFlagsReturnNaN(t *testing.T) {
	for _, flag := range []byte{FlagIntegrity, FlagMathSat, FlagIntegrity | FlagMathSat} {
		d := New(Config{MinPSI: 0, MaxPSI: 25, Transfer: TransferA})
		// Data bytes carry a plausible count; the flags must override it.
		bus := &fakeBus{status: []byte{0x00}, result: resultBytes(flag, 8000000)}
		d.Begin(Address, bus)
		got, err := d.ReadPressure(PSI)
		if err != nil {
			t.Fatalf("flag %#02x: ReadPressure: %v", flag, err)
		}
		if !math.IsNaN(got) {
			t.Errorf("flag %#02x: pressure = %v, want NaN", flag, got)
		}
	}
}

func TestAbsentSensorStopsPolling(t *testing.T) {
	// An empty bus reads back 0xFF everywhere. The busy bit is set inside
	// 0xFF, so without the early exit the poll would run to the timeout.
	d := New(Config{MinPSI: 0, MaxPSI: 25, Transfer: TransferA, PollTimeout: 10 * time.Second})
	bus := &fakeBus{status: []byte{0xFF}, result: []byte{0xFF, 0xFF, 0xFF, 0xFF}}
	d.Begin(Address, bus)

	done := make(chan float64, 1)
	go func() {
		p, _ := d.ReadPressure(PSI)
		done <- p
	}()
	select {
	case p := <-done:
		if !math.IsNaN(p) {
			t.Errorf("pressure = %v, want NaN", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("poll loop hung on all-ones status")
	}
}

func TestBusyPollThenRead(t *testing.T) {
	d := New(Config{MinPSI: 0, MaxPSI: 25, Transfer: TransferA})
	bus := &fakeBus{
		status: []byte{FlagBusy, FlagBusy, 0x00},
		result: resultBytes(0x00, 15099494),
	}
	d.Begin(Address, bus)

	got, err := d.ReadPressure(PSI)
	if err != nil {
		t.Fatalf("ReadPressure: %v", err)
	}
	if !approx(got, 25, 1e-9) {
		t.Errorf("pressure = %v, want 25", got)
	}

	// writes[0] is the Begin probe, writes[1] the trigger command.
	if len(bus.writes) != 2 {
		t.Fatalf("writes = %d, want 2", len(bus.writes))
	}
	trigger := bus.writes[1]
	if len(trigger) != 3 || trigger[0] != 0xAA || trigger[1] != 0x00 || trigger[2] != 0x00 {
		t.Errorf("trigger command = %#v, want [0xAA 0x00 0x00]", trigger)
	}
}

func TestPollTimeout(t *testing.T) {
	d := New(Config{MinPSI: 0, MaxPSI: 25, Transfer: TransferA, PollTimeout: 5 * time.Millisecond})
	bus := &fakeBus{status: []byte{FlagBusy}, result: resultBytes(0x00, 8000000)}
	d.Begin(Address, bus)

	_, err := d.ReadPressure(PSI)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
}

func TestEOCPinPolling(t *testing.T) {
	eoc := &fakePin{reads: []int{embd.Low, embd.Low, embd.High}}
	d := New(Config{MinPSI: 0, MaxPSI: 25, Transfer: TransferA, EOC: eoc})
	bus := &fakeBus{status: []byte{FlagBusy}, result: resultBytes(0x00, 15099494)}
	if !d.Begin(Address, bus) {
		t.Fatal("Begin failed")
	}

	got, err := d.ReadPressure(PSI)
	if err != nil {
		t.Fatalf("ReadPressure: %v", err)
	}
	if !approx(got, 25, 1e-9) {
		t.Errorf("pressure = %v, want 25", got)
	}
	if len(eoc.dirs) != 1 || eoc.dirs[0] != embd.In {
		t.Errorf("EOC direction calls = %v, want [In]", eoc.dirs)
	}
}

func TestBeginResetPulse(t *testing.T) {
	rst := &fakePin{}
	d := New(Config{MinPSI: 0, MaxPSI: 25, Transfer: TransferA, RST: rst})
	bus := &fakeBus{status: []byte{0x00}}
	if !d.Begin(Address, bus) {
		t.Fatal("Begin failed")
	}
	if len(rst.writes) != 2 || rst.writes[0] != embd.Low || rst.writes[1] != embd.High {
		t.Errorf("reset writes = %v, want [Low High]", rst.writes)
	}
	if len(rst.dirs) != 1 || rst.dirs[0] != embd.Out {
		t.Errorf("RST direction calls = %v, want [Out]", rst.dirs)
	}
}

func TestBeginProbeFailure(t *testing.T) {
	d := New(Config{MinPSI: 0, MaxPSI: 25, Transfer: TransferA})
	bus := &fakeBus{writeErr: errors.New("remote I/O error")}
	if d.Begin(Address, bus) {
		t.Error("Begin reported a sensor on a dead bus")
	}
}

func TestSetZeroRoundTrip(t *testing.T) {
	d := New(Config{MinPSI: 0, MaxPSI: 25, Transfer: TransferA})

	// Zeroing to the nominal minimum must leave the calibration unchanged.
	d.SetZero(1677722)
	if d.CalFactor() != 25.0/float64(15099494-1677722) {
		t.Errorf("calFactor after nominal SetZero = %g", d.CalFactor())
	}

	// A measured zero point shifts the scale; minCounts must read back 0 PSI.
	d.SetZero(1700000)
	bus := &fakeBus{status: []byte{0x00}, result: resultBytes(0x00, 1700000)}
	d.Begin(Address, bus)
	got, err := d.ReadPressure(PSI)
	if err != nil {
		t.Fatalf("ReadPressure: %v", err)
	}
	if !approx(got, 0, 1e-9) {
		t.Errorf("pressure at measured zero = %v, want 0", got)
	}
}

func TestSetCalFactor(t *testing.T) {
	d := New(Config{MinPSI: 0, MaxPSI: 25, Transfer: TransferA})
	calFac := 2.0e-6
	d.SetCalFactor(calFac)

	if d.CalFactor() != calFac {
		t.Errorf("calFactor = %g, want %g", d.CalFactor(), calFac)
	}
	_, max := d.Range()
	wantMax := calFac * float64(d.DeltaCounts())
	if !approx(max, wantMax, 1e-9) {
		t.Errorf("maxPsi = %v, want %v", max, wantMax)
	}
}

func TestReadStatus(t *testing.T) {
	d := New(Config{MinPSI: 0, MaxPSI: 25, Transfer: TransferA})
	bus := &fakeBus{status: []byte{FlagBusy | FlagIntegrity}}
	d.Begin(Address, bus)
	s, err := d.ReadStatus()
	if err != nil {
		t.Fatalf("ReadStatus: %v", err)
	}
	if s != FlagBusy|FlagIntegrity {
		t.Errorf("status = %#02x, want %#02x", s, FlagBusy|FlagIntegrity)
	}
}

func TestParseTransferFunction(t *testing.T) {
	cases := map[string]TransferFunction{
		"A": TransferA, "a": TransferA, "B": TransferB, "b": TransferB,
		"C": TransferC, "": TransferA, "D": TransferA,
	}
	for in, want := range cases {
		if got := ParseTransferFunction(in); got != want {
			t.Errorf("ParseTransferFunction(%q) = %c, want %c", in, got, want)
		}
	}
}

func TestParseUnit(t *testing.T) {
	cases := map[string]Unit{
		"psi": PSI, "pa": Pa, "kpa": KPa, "torr": Torr, "mmhg": Torr,
		"inhg": InHg, "atm": Atm, "bar": Bar, "raw": Raw, "furlong": PSI,
	}
	for in, want := range cases {
		if got := ParseUnit(in); got != want {
			t.Errorf("ParseUnit(%q) = %v, want %v", in, got, want)
		}
	}
}
