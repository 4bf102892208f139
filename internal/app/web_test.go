package app

import (
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/ninedof_driver/internal/bus/bustest"
	"github.com/relabs-tech/ninedof_driver/internal/imu"
	"github.com/relabs-tech/ninedof_driver/internal/sensors"
)

func newTestServer(t *testing.T) (*bustest.Board, *Devices, *fakePublisher, *httptest.Server) {
	t.Helper()
	b, cfg, d := newTestDevices(t)
	pub := &fakePublisher{}
	srv := httptest.NewServer(NewServer(cfg, d, pub).Handler())
	t.Cleanup(srv.Close)
	return b, d, pub, srv
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(v); err != nil {
		t.Fatalf("read: %v", err)
	}
}

// readEvent skips progress events and returns the next other one.
func readEvent(t *testing.T, conn *websocket.Conn) CalibrationEvent {
	t.Helper()
	for {
		var ev CalibrationEvent
		readJSON(t, conn, &ev)
		if ev.Type != "progress" {
			return ev
		}
	}
}

func nearCal(a, b sensors.Calibration) bool {
	for _, p := range [][2]sensors.Vec3{{a.Offset, b.Offset}, {a.Scale, b.Scale}} {
		x, y := p[0].Axes(), p[1].Axes()
		for i := range x {
			if math.Abs(x[i]-y[i]) > 1e-9 {
				return false
			}
		}
	}
	return true
}

func getJSON(t *testing.T, url string, v any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("GET %s: %s %s", url, resp.Status, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatal(err)
	}
}

func TestHandleSensorData(t *testing.T) {
	b, _, _, srv := newTestServer(t)
	b.SetAccel(0, 0, 16384)
	b.QueueMag(0, 1000, 0)

	var got map[string]imu.Sample
	getJSON(t, srv.URL+"/api/sensors", &got)
	if a := got[imu.SensorAccel]; a.Z < 9.8 || a.Unit != "m/s2" {
		t.Errorf("accel = %+v", a)
	}
	if m := got[imu.SensorMag]; math.Abs(m.Y-150) > 1e-9 || m.Unit != "uT" {
		t.Errorf("mag = %+v", m)
	}
}

func TestHandleSensorDataReadError(t *testing.T) {
	b, _, _, srv := newTestServer(t)
	b.Set(bustest.MagAddr, 0x09, 0x18)

	resp, err := http.Get(srv.URL + "/api/sensors")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %s", resp.Status)
	}
}

func TestHandleCalibrationWithoutStoredFile(t *testing.T) {
	_, _, _, srv := newTestServer(t)

	var st calibrationStatus
	getJSON(t, srv.URL+"/api/calibration", &st)
	if st.Active != sensors.IdentityCalibration() || st.Stored != nil {
		t.Errorf("status = %+v", st)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, _, _, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `ninedof_mag_calibration{axis="x",kind="scale"}`) {
		t.Errorf("/metrics lacks the calibration gauge:\n%s", body)
	}
}

func TestCalibrationWebSocket(t *testing.T) {
	b, d, pub, srv := newTestServer(t)
	b.QueueMag(1000, 500, 100)
	b.QueueMag(-1000, -500, 100)
	b.QueueMag(0, 0, 100)
	b.QueueMag(500, -200, 100)

	conn := dial(t, srv, "/ws/calibration")
	if err := conn.WriteJSON(map[string]any{"action": "start", "samples": 3, "delay_ms": 0}); err != nil {
		t.Fatal(err)
	}

	if ev := readEvent(t, conn); ev.Type != "started" || ev.Total != 3 {
		t.Fatalf("first event = %+v", ev)
	}
	ev := readEvent(t, conn)
	if ev.Type != "complete" {
		t.Fatalf("event = %+v, want complete", ev)
	}
	if !ev.Saved || ev.Calibration == nil {
		t.Fatalf("complete event = %+v", ev)
	}
	want := sensors.Calibration{
		Offset: sensors.Vec3{Z: 15},
		Scale:  sensors.Vec3{X: 0.75, Y: 1.5, Z: 1},
	}
	if !nearCal(*ev.Calibration, want) || !nearCal(d.Mag.Calibration(), want) {
		t.Errorf("calibration = %+v, active %+v, want %+v", *ev.Calibration, d.Mag.Calibration(), want)
	}

	f, err := LoadCalibration(d.cfg.MagCalFile)
	if err != nil {
		t.Fatalf("calibration not saved: %v", err)
	}
	if !nearCal(f.Calibration, want) || f.Samples != 3 {
		t.Errorf("saved = %+v", f)
	}

	pub.mu.Lock()
	n := len(pub.msgs[d.cfg.TopicCalibration])
	pub.mu.Unlock()
	if n != 1 {
		t.Errorf("calibration published %d times, want 1", n)
	}
}

func TestCalibrationWebSocketNoSave(t *testing.T) {
	b, d, _, srv := newTestServer(t)
	b.QueueMag(100, 100, 100)
	b.QueueMag(-100, -100, -100)

	conn := dial(t, srv, "/ws/calibration")
	conn.WriteJSON(map[string]any{"action": "start", "samples": 1, "delay_ms": 0, "save": false})
	readEvent(t, conn)
	if ev := readEvent(t, conn); ev.Type != "complete" || ev.Saved {
		t.Fatalf("event = %+v", ev)
	}
	if _, err := os.Stat(d.cfg.MagCalFile); !os.IsNotExist(err) {
		t.Errorf("calibration file written with save=false")
	}
}

func TestCalibrationWebSocketCancel(t *testing.T) {
	_, d, _, srv := newTestServer(t)
	prev := sensors.Calibration{Offset: sensors.Vec3{X: 7}, Scale: sensors.Vec3{X: 1, Y: 1, Z: 1}}
	if err := d.Mag.SetCalibration(prev); err != nil {
		t.Fatal(err)
	}

	conn := dial(t, srv, "/ws/calibration")
	conn.WriteJSON(map[string]any{"action": "start", "samples": 5, "delay_ms": 3600000})
	if ev := readEvent(t, conn); ev.Type != "started" {
		t.Fatalf("event = %+v", ev)
	}

	// The second client is turned away while the first one runs.
	other := dial(t, srv, "/ws/calibration")
	other.WriteJSON(map[string]any{"action": "start", "samples": 5})
	if ev := readEvent(t, other); ev.Type != "error" || !strings.Contains(ev.Message, "another client") {
		t.Errorf("second client event = %+v", ev)
	}

	conn.WriteJSON(map[string]any{"action": "cancel"})
	if ev := readEvent(t, conn); ev.Type != "cancelled" {
		t.Fatalf("event = %+v, want cancelled", ev)
	}
	if d.Mag.Calibration() != prev {
		t.Errorf("calibration = %+v, want previous %+v", d.Mag.Calibration(), prev)
	}
}

func TestCalibrationWebSocketErrors(t *testing.T) {
	_, _, _, srv := newTestServer(t)
	conn := dial(t, srv, "/ws/calibration")

	conn.WriteJSON(map[string]any{"action": "cancel"})
	if ev := readEvent(t, conn); ev.Type != "error" || ev.Message != "no calibration running" {
		t.Errorf("cancel event = %+v", ev)
	}
	conn.WriteJSON(map[string]any{"action": "spin"})
	if ev := readEvent(t, conn); ev.Type != "error" {
		t.Errorf("unknown action event = %+v", ev)
	}
	// invalid runs are refused without a started event
	conn.WriteJSON(map[string]any{"action": "start", "samples": 1, "delay_ms": -1})
	if ev := readEvent(t, conn); ev.Type != "error" || !strings.Contains(ev.Message, "delay") {
		t.Errorf("negative delay event = %+v", ev)
	}
	conn.WriteJSON(map[string]any{"action": "start", "samples": -3})
	if ev := readEvent(t, conn); ev.Type != "error" || !strings.Contains(ev.Message, "samples") {
		t.Errorf("negative samples event = %+v", ev)
	}
}

func TestRegisterWebSocket(t *testing.T) {
	b, d, _, srv := newTestServer(t)
	conn := dial(t, srv, "/ws/registers")

	next := func() RegisterResponse {
		t.Helper()
		var r RegisterResponse
		readJSON(t, conn, &r)
		return r
	}

	resp := next()
	if resp.Type != "register_map" || resp.Device != sensors.DeviceMPU9250 || len(resp.RegisterMap) == 0 {
		t.Fatalf("first message = %+v", resp)
	}

	conn.WriteJSON(RegisterCmd{Action: "read", Addr: "0x75"})
	resp = next()
	if resp.Type != "register_data" || resp.Value != "0x71" {
		t.Errorf("WHO_AM_I = %+v", resp)
	}

	conn.WriteJSON(RegisterCmd{Action: "read", Device: sensors.DeviceAK8963, Addr: "0x10", Count: 3})
	resp = next()
	if resp.Value != "0x80 0x80 0x80" {
		t.Errorf("ASA = %+v", resp)
	}

	conn.WriteJSON(RegisterCmd{Action: "write", Addr: "0x75", Value: "0x00"})
	resp = next()
	if resp.Type != "error" {
		t.Errorf("write to WHO_AM_I = %+v, want error", resp)
	}

	conn.WriteJSON(RegisterCmd{Action: "write", Addr: "0x1C", Value: "0x08"})
	resp = next()
	if resp.Type != "register_data" || resp.Message != "write successful" {
		t.Errorf("write ACCEL_CONFIG = %+v", resp)
	}
	if got := b.Reg(bustest.MPUAddr, 0x1C); got != 0x08 || d.Accel.Range() != sensors.Accel4G {
		t.Errorf("ACCEL_CONFIG = 0x%02X, range %s, want 0x08 and ±4g", got, d.Accel.Range())
	}

	conn.WriteJSON(RegisterCmd{Action: "read_all", Device: sensors.DeviceAK8963})
	resp = next()
	if resp.Registers["0x00"] != "0x48" {
		t.Errorf("read_all = %+v", resp)
	}

	conn.WriteJSON(RegisterCmd{Action: "read", Device: "bmp280", Addr: "0x00"})
	resp = next()
	if resp.Type != "error" {
		t.Errorf("unknown device = %+v", resp)
	}
}

func TestRegisterWritesKeepDriversInStep(t *testing.T) {
	b, d, _, srv := newTestServer(t)
	conn := dial(t, srv, "/ws/registers")
	next := func() RegisterResponse {
		t.Helper()
		var r RegisterResponse
		readJSON(t, conn, &r)
		return r
	}
	next() // register map

	conn.WriteJSON(RegisterCmd{Action: "write", Addr: "0x1C", Value: "0x18"})
	if resp := next(); resp.Type != "register_data" {
		t.Fatalf("write ACCEL_CONFIG = %+v", resp)
	}
	b.SetAccel(0, 0, 2048)
	v, err := d.Accel.ReadAcceleration()
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(v.Z-9.80665) > 1e-9 {
		t.Errorf("Z = %v after switching to ±16g, want 9.80665", v.Z)
	}

	conn.WriteJSON(RegisterCmd{Action: "write", Addr: "0x1C", Value: "0xF8"})
	if resp := next(); resp.Type != "error" {
		t.Errorf("ACCEL_CONFIG with self-test bits = %+v, want error", resp)
	}

	conn.WriteJSON(RegisterCmd{Action: "write", Addr: "0x37", Value: "0x00"})
	if resp := next(); resp.Type != "error" || !strings.Contains(resp.Message, "bypass") {
		t.Errorf("clearing BYPASS_EN = %+v, want error", resp)
	}
	if _, err := d.Mag.ReadMagnetic(); err != nil {
		t.Errorf("magnetometer lost after refused INT_PIN_CFG write: %v", err)
	}

	conn.WriteJSON(RegisterCmd{Action: "write", Device: sensors.DeviceAK8963, Addr: "0x0A", Value: "0x02"})
	if resp := next(); resp.Type != "register_data" {
		t.Fatalf("write CNTL1 = %+v", resp)
	}
	if d.Mag.MicroTeslaPerLSB() != 0.6 {
		t.Errorf("MicroTeslaPerLSB = %v after 14-bit CNTL1, want 0.6", d.Mag.MicroTeslaPerLSB())
	}
}

func TestRegisterReadCountIsBounded(t *testing.T) {
	b, _, _, srv := newTestServer(t)
	conn := dial(t, srv, "/ws/registers")
	var resp RegisterResponse
	readJSON(t, conn, &resp) // register map
	b.ClearOps()

	conn.WriteJSON(RegisterCmd{Action: "read", Addr: "0x3B", Count: 100000000})
	resp = RegisterResponse{}
	readJSON(t, conn, &resp)
	if resp.Type != "error" || !strings.Contains(resp.Message, "exceeds") {
		t.Errorf("oversized read = %+v, want error", resp)
	}
	if ops := b.Ops(); len(ops) != 0 {
		t.Errorf("oversized read reached the bus: %d ops", len(ops))
	}

	conn.WriteJSON(RegisterCmd{Action: "read", Addr: "0x3B", Count: maxRegisterRead})
	resp = RegisterResponse{}
	readJSON(t, conn, &resp)
	if resp.Type != "register_data" {
		t.Errorf("read of %d bytes = %+v", maxRegisterRead, resp)
	}
}
