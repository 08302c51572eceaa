// Package protocol implements the binary wire format used to stream
// simulation state to observers and to receive control updates.
//
// Message layout, big-endian:
//
//	Header (8 bytes):
//	    message type   uint16
//	    payload length uint16
//	    timestamp ms   uint32 (low 32 bits of epoch milliseconds)
//	Payload:
//	    simulation data: 8 float32 fields in fixed order
//	    control update:  3 float32 fields
//	    error:           UTF-8 JSON text
//
// Simulation payloads above a configurable threshold may be DEFLATE
// compressed; decoders sniff the zlib magic byte to decide.
package protocol

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/MMSK-SBrain/Motor-Dyno/pkg/pool"
)

// Message type identifiers.
const (
	MsgSimulationData uint16 = 0x0001
	MsgControlUpdate  uint16 = 0x0002
	MsgError          uint16 = 0x0003
	MsgStatus         uint16 = 0x0004
)

const (
	// HeaderSize is the fixed byte length of the message header.
	HeaderSize = 8

	// SimulationPayloadSize is the uncompressed simulation payload length:
	// 8 float32 fields.
	SimulationPayloadSize = 8 * 4

	// ControlPayloadSize is the control update payload length: 3 float32
	// fields.
	ControlPayloadSize = 3 * 4

	// zlibMagic is the first byte of a zlib stream.
	zlibMagic = 0x78
)

// SimulationPoint is the fixed-order simulation data record carried by
// MsgSimulationData messages.
type SimulationPoint struct {
	Timestamp    float64 `json:"timestamp"`
	SpeedRPM     float64 `json:"speed_rpm"`
	TorqueNm     float64 `json:"torque_nm"`
	CurrentA     float64 `json:"current_a"`
	VoltageV     float64 `json:"voltage_v"`
	Efficiency   float64 `json:"efficiency"`
	PowerW       float64 `json:"power_w"`
	TemperatureC float64 `json:"temperature_c"`
}

// ControlUpdate is the record carried by MsgControlUpdate messages.
type ControlUpdate struct {
	TargetSpeedRPM    float64 `json:"target_speed_rpm"`
	LoadTorquePercent float64 `json:"load_torque_percent"`
	EnablePID         bool    `json:"enable_pid"`
	Timestamp         float64 `json:"timestamp"`
}

// Codec encodes and decodes wire messages. The zero value is not usable;
// construct with NewCodec.
type Codec struct {
	// CompressionThreshold is the payload size in bytes above which
	// EncodeSimulationData compresses when asked to.
	CompressionThreshold int
}

// NewCodec returns a codec with the default compression threshold.
func NewCodec() *Codec {
	return &Codec{CompressionThreshold: 100}
}

func putHeader(buf []byte, msgType uint16, payloadLen int, timestampMs uint32) {
	binary.BigEndian.PutUint16(buf[0:2], msgType)
	binary.BigEndian.PutUint16(buf[2:4], uint16(payloadLen))
	binary.BigEndian.PutUint32(buf[4:8], timestampMs)
}

func timestampMs(ts float64) uint32 {
	if ts == 0 {
		ts = float64(time.Now().UnixMilli()) / 1000
	}
	return uint32(int64(ts*1000) & 0xFFFFFFFF)
}

// EncodeSimulationData encodes a simulation data point. When compress is
// true and the payload exceeds the threshold, the payload is zlib
// compressed.
func (c *Codec) EncodeSimulationData(p SimulationPoint, compress bool) ([]byte, error) {
	payload := make([]byte, SimulationPayloadSize)
	fields := [8]float64{
		p.Timestamp, p.SpeedRPM, p.TorqueNm, p.CurrentA,
		p.VoltageV, p.Efficiency, p.PowerW, p.TemperatureC,
	}
	for i, v := range fields {
		binary.BigEndian.PutUint32(payload[i*4:], math.Float32bits(float32(v)))
	}

	if compress && len(payload) > c.CompressionThreshold {
		buf := pool.GetByteBuffer()
		defer pool.PutByteBuffer(buf)
		zw, err := zlib.NewWriterLevel(buf, 6)
		if err != nil {
			return nil, fmt.Errorf("protocol: zlib init: %w", err)
		}
		if _, err := zw.Write(payload); err != nil {
			return nil, fmt.Errorf("protocol: compress: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("protocol: compress: %w", err)
		}
		payload = buf.Bytes()
	}

	// The payload may alias pooled memory, so it is copied into the
	// outgoing message before the deferred Put.
	out := make([]byte, HeaderSize+len(payload))
	putHeader(out, MsgSimulationData, len(payload), timestampMs(p.Timestamp))
	copy(out[HeaderSize:], payload)
	return out, nil
}

// DecodeSimulationData decodes a MsgSimulationData message, transparently
// decompressing a zlib payload. A payload that is neither compressed nor
// exactly the fixed size is rejected.
func (c *Codec) DecodeSimulationData(data []byte) (SimulationPoint, error) {
	msgType, payload, _, err := c.splitMessage(data)
	if err != nil {
		return SimulationPoint{}, err
	}
	if msgType != MsgSimulationData {
		return SimulationPoint{}, fmt.Errorf("protocol: expected simulation data, got type 0x%04x", msgType)
	}

	if len(payload) > 0 && payload[0] == zlibMagic {
		if raw, err := inflate(payload); err == nil {
			payload = raw
		}
		// A raw payload can never start with the magic byte at the fixed
		// size check below unless it really is 32 bytes, so a failed
		// inflate falls through to the size check.
	}

	if len(payload) != SimulationPayloadSize {
		return SimulationPoint{}, fmt.Errorf("protocol: simulation payload size %d, expected %d",
			len(payload), SimulationPayloadSize)
	}

	var fields [8]float64
	for i := range fields {
		bits := binary.BigEndian.Uint32(payload[i*4:])
		fields[i] = float64(math.Float32frombits(bits))
	}
	return SimulationPoint{
		Timestamp:    fields[0],
		SpeedRPM:     fields[1],
		TorqueNm:     fields[2],
		CurrentA:     fields[3],
		VoltageV:     fields[4],
		Efficiency:   fields[5],
		PowerW:       fields[6],
		TemperatureC: fields[7],
	}, nil
}

// EncodeControlUpdate encodes a control update message.
func (c *Codec) EncodeControlUpdate(u ControlUpdate) []byte {
	out := make([]byte, HeaderSize+ControlPayloadSize)
	putHeader(out, MsgControlUpdate, ControlPayloadSize, timestampMs(u.Timestamp))

	enablePID := float32(0)
	if u.EnablePID {
		enablePID = 1
	}
	binary.BigEndian.PutUint32(out[HeaderSize:], math.Float32bits(float32(u.TargetSpeedRPM)))
	binary.BigEndian.PutUint32(out[HeaderSize+4:], math.Float32bits(float32(u.LoadTorquePercent)))
	binary.BigEndian.PutUint32(out[HeaderSize+8:], math.Float32bits(enablePID))
	return out
}

// DecodeControlUpdate decodes a MsgControlUpdate message. A payload of the
// wrong fixed size is a hard failure.
func (c *Codec) DecodeControlUpdate(data []byte) (ControlUpdate, error) {
	msgType, payload, tsMs, err := c.splitMessage(data)
	if err != nil {
		return ControlUpdate{}, err
	}
	if msgType != MsgControlUpdate {
		return ControlUpdate{}, fmt.Errorf("protocol: expected control update, got type 0x%04x", msgType)
	}
	if len(payload) != ControlPayloadSize {
		return ControlUpdate{}, fmt.Errorf("protocol: control payload size %d, expected %d",
			len(payload), ControlPayloadSize)
	}

	speed := math.Float32frombits(binary.BigEndian.Uint32(payload[0:]))
	load := math.Float32frombits(binary.BigEndian.Uint32(payload[4:]))
	enable := math.Float32frombits(binary.BigEndian.Uint32(payload[8:]))

	return ControlUpdate{
		TargetSpeedRPM:    float64(speed),
		LoadTorquePercent: float64(load),
		EnablePID:         enable > 0.5,
		Timestamp:         float64(tsMs) / 1000,
	}, nil
}

// EncodeError encodes an error message. The payload is JSON so that error
// details keep arbitrary structure off the hot path.
func (c *Codec) EncodeError(details map[string]any) ([]byte, error) {
	payload, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("protocol: error payload: %w", err)
	}
	out := make([]byte, HeaderSize+len(payload))
	putHeader(out, MsgError, len(payload), timestampMs(0))
	copy(out[HeaderSize:], payload)
	return out, nil
}

// Message is a decoded wire message of any type.
type Message struct {
	Type      uint16
	Timestamp float64

	Simulation *SimulationPoint
	Control    *ControlUpdate
	Error      map[string]any
}

// DecodeMessage decodes a message of any known type. Unknown message types
// are rejected with a descriptive error so the caller can decide whether to
// drop the connection.
func (c *Codec) DecodeMessage(data []byte) (Message, error) {
	msgType, payload, tsMs, err := c.splitMessage(data)
	if err != nil {
		return Message{}, err
	}

	msg := Message{Type: msgType, Timestamp: float64(tsMs) / 1000}
	switch msgType {
	case MsgSimulationData:
		p, err := c.DecodeSimulationData(data)
		if err != nil {
			return Message{}, err
		}
		msg.Simulation = &p
	case MsgControlUpdate:
		u, err := c.DecodeControlUpdate(data)
		if err != nil {
			return Message{}, err
		}
		msg.Control = &u
	case MsgError:
		var details map[string]any
		if err := json.Unmarshal(payload, &details); err != nil {
			return Message{}, fmt.Errorf("protocol: error payload: %w", err)
		}
		msg.Error = details
	default:
		return Message{}, fmt.Errorf("protocol: unknown message type 0x%04x", msgType)
	}
	return msg, nil
}

// Info describes a message header without decoding the payload.
type Info struct {
	Type          uint16
	TypeName      string
	PayloadLength int
	Timestamp     float64
	TotalSize     int
}

// MessageInfo peeks at a message header.
func (c *Codec) MessageInfo(data []byte) (Info, error) {
	if len(data) < HeaderSize {
		return Info{}, fmt.Errorf("protocol: message too short for header (%d bytes)", len(data))
	}
	msgType := binary.BigEndian.Uint16(data[0:2])
	payloadLen := int(binary.BigEndian.Uint16(data[2:4]))
	tsMs := binary.BigEndian.Uint32(data[4:8])

	return Info{
		Type:          msgType,
		TypeName:      typeName(msgType),
		PayloadLength: payloadLen,
		Timestamp:     float64(tsMs) / 1000,
		TotalSize:     HeaderSize + payloadLen,
	}, nil
}

func typeName(t uint16) string {
	switch t {
	case MsgSimulationData:
		return "simulation_data"
	case MsgControlUpdate:
		return "control_update"
	case MsgError:
		return "error"
	case MsgStatus:
		return "status"
	}
	return "unknown"
}

// splitMessage validates the header and returns the message type, payload
// and header timestamp.
func (c *Codec) splitMessage(data []byte) (uint16, []byte, uint32, error) {
	if len(data) < HeaderSize {
		return 0, nil, 0, fmt.Errorf("protocol: message too short for header (%d bytes)", len(data))
	}
	msgType := binary.BigEndian.Uint16(data[0:2])
	payloadLen := int(binary.BigEndian.Uint16(data[2:4]))
	tsMs := binary.BigEndian.Uint32(data[4:8])

	if len(data) < HeaderSize+payloadLen {
		return 0, nil, 0, fmt.Errorf("protocol: payload truncated: have %d bytes, header says %d",
			len(data)-HeaderSize, payloadLen)
	}
	return msgType, data[HeaderSize : HeaderSize+payloadLen], tsMs, nil
}

func inflate(payload []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	buf := pool.GetByteBuffer()
	defer pool.PutByteBuffer(buf)
	if _, err := io.Copy(buf, zr); err != nil {
		return nil, err
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}
