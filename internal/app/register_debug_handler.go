// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/ninedof_driver/internal/sensors"
)

// RegisterCmd is a client message on /ws/registers.
type RegisterCmd struct {
	Action string `json:"action"`           // get_map, read, read_all, write
	Device string `json:"device,omitempty"` // "mpu9250" (default) or "ak8963"
	Addr   string `json:"addr,omitempty"`   // hex register address, e.g. "0x1C"
	Value  string `json:"value,omitempty"`  // hex byte for write
	Count  int    `json:"count,omitempty"`  // bytes to read, default 1
}

// RegisterResponse is a server message on /ws/registers.
type RegisterResponse struct {
	Type        string            `json:"type"` // "register_data", "register_map", "error"
	Device      string            `json:"device,omitempty"`
	Address     string            `json:"addr,omitempty"`
	Value       string            `json:"value,omitempty"`
	Registers   map[string]string `json:"registers,omitempty"` // for bulk read
	Timestamp   string            `json:"timestamp,omitempty"`
	Message     string            `json:"message,omitempty"`
	RegisterMap []RegisterInfo    `json:"register_map,omitempty"`
}

// RegisterInfo is sensors.RegisterInfo with hex-formatted addresses.
type RegisterInfo struct {
	Address     string             `json:"address"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Access      string             `json:"access"` // "R", "W", "RW"
	Width       int                `json:"width"`
	Default     string             `json:"default,omitempty"`
	BitFields   []sensors.BitField `json:"bit_fields,omitempty"`
}

// registerSession holds WebSocket connection state for register debugging
type registerSession struct {
	srv  *Server
	conn *websocket.Conn
}

// HandleRegisterDebugWS gives raw register access to both sensors through
// the shared bus. Writes are limited to registers the map marks writable.
func (s *Server) HandleRegisterDebugWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("register_debug: websocket upgrade error")
		return
	}
	defer conn.Close()

	sess := &registerSession{srv: s, conn: conn}

	// Send register map on connection (MPU9250 by default)
	if err := sess.sendRegisterMap(sensors.DeviceMPU9250); err != nil {
		log.WithError(err).Warn("register_debug: error sending register map")
		return
	}

	for {
		var msg RegisterCmd
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).Warn("register_debug: websocket error")
			}
			break
		}
		if msg.Device == "" {
			msg.Device = sensors.DeviceMPU9250
		}

		switch msg.Action {
		case "get_map":
			sess.sendRegisterMap(msg.Device)
		case "read":
			sess.handleRead(msg)
		case "read_all":
			sess.handleReadAll(msg)
		case "write":
			sess.handleWrite(msg)
		default:
			sess.sendError(fmt.Sprintf("unknown action: %s", msg.Action))
		}
	}
}

// maxRegisterRead bounds a single read request. The longest register block
// in either map is 6 bytes.
const maxRegisterRead = 64

func parseHexByte(s string) (byte, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, err
	}
	return byte(v), nil
}

func hexBytes(b []byte) string {
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = fmt.Sprintf("0x%02X", v)
	}
	return strings.Join(parts, " ")
}

func (s *registerSession) handleRead(msg RegisterCmd) {
	addr, err := s.srv.dev.DeviceAddr(msg.Device)
	if err != nil {
		s.sendError(err.Error())
		return
	}
	reg, err := parseHexByte(msg.Addr)
	if err != nil {
		s.sendError(fmt.Sprintf("invalid address format: %s", msg.Addr))
		return
	}
	n := msg.Count
	if n <= 0 {
		n = 1
	}
	if n > maxRegisterRead {
		s.sendError(fmt.Sprintf("count %d exceeds %d bytes", n, maxRegisterRead))
		return
	}

	data, err := s.srv.dev.Bus.ReadRegister(addr, reg, n)
	if err != nil {
		s.sendError(fmt.Sprintf("read error: %v", err))
		return
	}

	s.send(RegisterResponse{
		Type:      "register_data",
		Device:    msg.Device,
		Address:   fmt.Sprintf("0x%02X", reg),
		Value:     hexBytes(data),
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

func (s *registerSession) handleReadAll(msg RegisterCmd) {
	addr, err := s.srv.dev.DeviceAddr(msg.Device)
	if err != nil {
		s.sendError(err.Error())
		return
	}
	regs, err := sensors.RegisterMap(msg.Device)
	if err != nil {
		s.sendError(err.Error())
		return
	}

	values := make(map[string]string, len(regs))
	for _, r := range regs {
		data, err := s.srv.dev.Bus.ReadRegister(addr, r.Address, r.Width)
		if err != nil {
			s.sendError(fmt.Sprintf("read all error at 0x%02X: %v", r.Address, err))
			return
		}
		values[fmt.Sprintf("0x%02X", r.Address)] = hexBytes(data)
	}

	s.send(RegisterResponse{
		Type:      "register_data",
		Device:    msg.Device,
		Registers: values,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

func (s *registerSession) handleWrite(msg RegisterCmd) {
	if _, err := s.srv.dev.DeviceAddr(msg.Device); err != nil {
		s.sendError(err.Error())
		return
	}
	reg, err := parseHexByte(msg.Addr)
	if err != nil {
		s.sendError(fmt.Sprintf("invalid address format: %s", msg.Addr))
		return
	}
	val, err := parseHexByte(msg.Value)
	if err != nil {
		s.sendError(fmt.Sprintf("invalid value format: %s", msg.Value))
		return
	}
	if !isRegisterWritable(msg.Device, reg) {
		s.sendError(fmt.Sprintf("register 0x%02X of %s is not writable", reg, msg.Device))
		return
	}

	if err := s.srv.dev.WriteRegister(msg.Device, reg, val); err != nil {
		s.sendError(fmt.Sprintf("write error: %v", err))
		return
	}
	log.WithFields(log.Fields{
		"device": msg.Device,
		"reg":    fmt.Sprintf("0x%02X", reg),
		"value":  fmt.Sprintf("0x%02X", val),
	}).Info("register_debug: register written")

	s.send(RegisterResponse{
		Type:      "register_data",
		Device:    msg.Device,
		Address:   fmt.Sprintf("0x%02X", reg),
		Value:     fmt.Sprintf("0x%02X", val),
		Timestamp: time.Now().Format(time.RFC3339),
		Message:   "write successful",
	})
}

// isRegisterWritable reports whether the register map of device lists reg
// as a single writable byte.
func isRegisterWritable(device string, reg byte) bool {
	regs, err := sensors.RegisterMap(device)
	if err != nil {
		return false
	}
	for _, r := range regs {
		if r.Address == reg {
			return r.Width == 1 && strings.Contains(r.Access, "W")
		}
	}
	return false
}

func (s *registerSession) sendRegisterMap(device string) error {
	regs, err := sensors.RegisterMap(device)
	if err != nil {
		s.sendError(err.Error())
		return nil
	}

	mapped := make([]RegisterInfo, len(regs))
	for i, r := range regs {
		mapped[i] = RegisterInfo{
			Address:     fmt.Sprintf("0x%02X", r.Address),
			Name:        r.Name,
			Description: r.Description,
			Access:      r.Access,
			Width:       r.Width,
			Default:     r.Default,
			BitFields:   r.BitFields,
		}
	}

	return s.conn.WriteJSON(RegisterResponse{
		Type:        "register_map",
		Device:      device,
		RegisterMap: mapped,
	})
}

func (s *registerSession) send(resp RegisterResponse) {
	if err := s.conn.WriteJSON(resp); err != nil {
		log.WithError(err).Debug("register_debug: websocket write error")
	}
}

func (s *registerSession) sendError(message string) {
	s.send(RegisterResponse{Type: "error", Message: message})
}
