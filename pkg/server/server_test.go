// Copyright (C) 2026  Motor-Dyno Project
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MMSK-SBrain/Motor-Dyno/pkg/config"
	"github.com/MMSK-SBrain/Motor-Dyno/pkg/log"
	"github.com/MMSK-SBrain/Motor-Dyno/pkg/protocol"
	"github.com/MMSK-SBrain/Motor-Dyno/pkg/session"
)

type testEnv struct {
	ts      *httptest.Server
	manager *session.Manager
	hub     *Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	settings := config.Default()
	settings.MaxConcurrentSessions = 4
	logger := log.New("test")
	logger.SetLevel(log.ERROR)

	hub := NewHub(logger)
	manager := session.NewManager(settings, hub, logger)
	t.Cleanup(manager.StopAll)

	srv := New(settings, manager, hub, logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, manager: manager, hub: hub}
}

func (e *testEnv) createSession(t *testing.T) createSessionResponse {
	t.Helper()
	resp, err := http.Post(e.ts.URL+"/api/simulation/session", "application/json",
		bytes.NewBufferString(`{"motor_id":"bldc_2kw_48v"}`))
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create session status = %d", resp.StatusCode)
	}
	var out createSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	return out
}

func (e *testEnv) wsURL(sessionID, token, format string) string {
	u := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/ws/simulation/" + sessionID + "?token=" + token
	if format != "" {
		u += "&format=" + format
	}
	return u
}

func TestCreateSessionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	created := env.createSession(t)
	if !strings.HasPrefix(created.SessionID, "sim_") {
		t.Errorf("session id %q lacks prefix", created.SessionID)
	}
	if created.Token == "" {
		t.Error("no websocket token issued")
	}
	if created.Motor.MotorID != "bldc_2kw_48v" {
		t.Errorf("motor id = %q", created.Motor.MotorID)
	}

	resp, err := http.Get(env.ts.URL + "/api/simulation/session/" + created.SessionID + "/statistics")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("statistics status = %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodDelete, env.ts.URL+"/api/simulation/session/"+created.SessionID, nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("delete status = %d", resp.StatusCode)
	}

	resp, err = http.Get(env.ts.URL + "/api/simulation/session/" + created.SessionID + "/statistics")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("statistics after delete = %d, want 404", resp.StatusCode)
	}
}

func TestCreateSessionUnknownMotor(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Post(env.ts.URL+"/api/simulation/session", "application/json",
		bytes.NewBufferString(`{"motor_id":"warp_drive"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestSessionLimitReported(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 4; i++ {
		env.createSession(t)
	}
	resp, err := http.Post(env.ts.URL+"/api/simulation/session", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestMotorEndpoints(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.ts.URL + "/api/motor/bldc_2kw_48v/parameters")
	if err != nil {
		t.Fatal(err)
	}
	var info struct {
		MotorID      string  `json:"motor_id"`
		RatedPowerKW float64 `json:"rated_power_kw"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if info.MotorID != "bldc_2kw_48v" || info.RatedPowerKW != 2.0 {
		t.Errorf("parameters = %+v", info)
	}

	resp, err = http.Get(env.ts.URL + "/api/motor/bldc_2kw_48v/efficiency-curve")
	if err != nil {
		t.Fatal(err)
	}
	var curve struct {
		Points []map[string]float64 `json:"points"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&curve); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if len(curve.Points) == 0 {
		t.Error("efficiency curve is empty")
	}

	resp, err = http.Get(env.ts.URL + "/api/motor/warp_drive/parameters")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown motor status = %d, want 404", resp.StatusCode)
	}
}

func TestControlEndpoint(t *testing.T) {
	env := newTestEnv(t)
	created := env.createSession(t)
	url := env.ts.URL + "/api/simulation/session/" + created.SessionID + "/control"

	req, _ := http.NewRequest(http.MethodPut, url,
		bytes.NewBufferString(`{"target_speed_rpm": 1500, "load_torque_percent": 25}`))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("control status = %d", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodPut, url,
		bytes.NewBufferString(`{"target_speed_rpm": 99999}`))
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("out-of-range control status = %d, want 400", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	env.createSession(t)
	resp, err := http.Get(env.ts.URL + "/api/health")
	if err != nil {
		t.Fatal(err)
	}
	var health struct {
		Status         string `json:"status"`
		ActiveSessions int    `json:"active_sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if health.Status != "ok" || health.ActiveSessions != 1 {
		t.Errorf("health = %+v", health)
	}
}

func TestWebSocketAuth(t *testing.T) {
	env := newTestEnv(t)
	created := env.createSession(t)

	_, resp, err := websocket.DefaultDialer.Dial(env.wsURL(created.SessionID, "wrong-token", ""), nil)
	if err == nil {
		t.Fatal("dial with bad token succeeded")
	}
	if resp != nil && resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("handshake status = %d, want 401", resp.StatusCode)
	}
}

func TestWebSocketJSONStream(t *testing.T) {
	env := newTestEnv(t)
	created := env.createSession(t)

	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL(created.SessionID, created.Token, ""), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame struct {
		Type string                   `json:"type"`
		Data protocol.SimulationPoint `json:"data"`
	}
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read data frame: %v", err)
	}
	if frame.Type != "simulation_data" {
		t.Errorf("frame type = %q", frame.Type)
	}
	if frame.Data.TemperatureC < 25 {
		t.Errorf("implausible temperature %v", frame.Data.TemperatureC)
	}
}

func TestWebSocketControlRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	created := env.createSession(t)

	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL(created.SessionID, created.Token, ""), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	msg := `{"type":"control_update","target_speed_rpm":2000}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatal(err)
	}

	// Data frames interleave with the ack; scan for it.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var reply map[string]any
		if err := conn.ReadJSON(&reply); err != nil {
			t.Fatalf("never saw control_ack: %v", err)
		}
		if reply["type"] == "control_ack" {
			break
		}
		if reply["type"] == "error" {
			t.Fatalf("control rejected: %v", reply["message"])
		}
	}

	sess, err := env.manager.Get(created.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if got := sess.Loop().Statistics().Control.TargetSpeedRPM; got != 2000 {
		t.Errorf("target speed = %v, want 2000", got)
	}
}

func TestWebSocketBinaryStream(t *testing.T) {
	env := newTestEnv(t)
	created := env.createSession(t)

	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL(created.SessionID, created.Token, "binary"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if msgType != websocket.BinaryMessage {
		t.Fatalf("message type = %d, want binary", msgType)
	}

	codec := protocol.NewCodec()
	info, err := codec.MessageInfo(data)
	if err != nil {
		t.Fatalf("message info: %v", err)
	}
	if info.Type != protocol.MsgSimulationData {
		t.Errorf("wire type = %#x", info.Type)
	}
	msg, err := codec.DecodeMessage(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Simulation == nil || msg.Simulation.TemperatureC < 25 {
		t.Errorf("decoded frame implausible: %+v", msg.Simulation)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := newRateLimiter(5)
	allowed := 0
	for i := 0; i < 10; i++ {
		if rl.allow() {
			allowed++
		}
	}
	if allowed != 5 {
		t.Errorf("allowed %d of 10 burst messages, want 5", allowed)
	}
	time.Sleep(250 * time.Millisecond)
	if !rl.allow() {
		t.Error("bucket did not refill")
	}
}
