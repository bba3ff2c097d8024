package notify

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/oszuidwest/zwfm-micwatch/internal/util"
)

// Zabbix protocol constants.
const (
	zabbixTimeout    = 5 * time.Second
	zabbixHeaderSize = 13        // "ZBXD\x01" (5) + uint64 length (8)
	maxReplySize     = 64 * 1024 // 64KB max reply to prevent memory exhaustion
)

// Zabbix item values for the microphone state.
const (
	zabbixActive   = "1"
	zabbixInactive = "0"
)

// zabbixMagic is the protocol header prefix.
var zabbixMagic = [5]byte{'Z', 'B', 'X', 'D', 0x01}

// Zabbix protocol types.
type zabbixRequest struct {
	Request string       `json:"request"`
	Data    []zabbixItem `json:"data"`
}

type zabbixItem struct {
	Host  string `json:"host"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

type zabbixResponse struct {
	Response string `json:"response"`
	Info     string `json:"info"`
}

// frameZabbix prefixes data with the ZBXD header.
func frameZabbix(data []byte) []byte {
	frame := make([]byte, zabbixHeaderSize, zabbixHeaderSize+len(data))
	copy(frame[0:5], zabbixMagic[:])
	binary.LittleEndian.PutUint64(frame[5:], uint64(len(data)))
	return append(frame, data...)
}

// readZabbixFrame reads one framed message from r.
func readZabbixFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, zabbixHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, util.WrapError("read zabbix header", err)
	}
	if !bytes.Equal(header[0:5], zabbixMagic[:]) {
		return nil, fmt.Errorf("invalid zabbix header")
	}

	n := binary.LittleEndian.Uint64(header[5:zabbixHeaderSize])
	if n == 0 {
		return nil, fmt.Errorf("empty zabbix message")
	}
	if n > maxReplySize {
		return nil, fmt.Errorf("zabbix message too large: %d bytes (max %d)", n, maxReplySize)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, util.WrapError("read zabbix body", err)
	}
	return body, nil
}

// sendZabbixPayload sends a payload to the Zabbix server.
func sendZabbixPayload(server string, port int, payload zabbixRequest) error {
	addr := net.JoinHostPort(server, strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", addr, zabbixTimeout)
	if err != nil {
		return util.WrapError("connect to zabbix", err)
	}
	defer func() { _ = conn.Close() }()

	if err := conn.SetDeadline(time.Now().Add(zabbixTimeout)); err != nil {
		return util.WrapError("set deadline", err)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return util.WrapError("marshal zabbix payload", err)
	}

	if _, err := conn.Write(frameZabbix(data)); err != nil {
		return util.WrapError("write zabbix payload", err)
	}

	reply, err := readZabbixFrame(conn)
	if err != nil {
		return err
	}

	var resp zabbixResponse
	if err := json.Unmarshal(reply, &resp); err != nil {
		return util.WrapError("parse zabbix reply", err)
	}

	if resp.Response == "failed" {
		return fmt.Errorf("zabbix rejected data: %s", resp.Info)
	}

	// Host or key unknown to Zabbix
	if strings.Contains(resp.Info, "processed: 0;") && strings.Contains(resp.Info, "failed: 0;") {
		return fmt.Errorf("zabbix processed no items (check host/key config)")
	}

	return nil
}

// sendZabbixValue sends a single item value to Zabbix.
func sendZabbixValue(server string, port int, host, key, value string) error {
	if server == "" || host == "" || key == "" {
		return nil
	}
	req := zabbixRequest{
		Request: "sender data",
		Data:    []zabbixItem{{Host: host, Key: key, Value: value}},
	}
	return sendZabbixPayload(server, port, req)
}

// SendStateZabbix reports the microphone state as 1 (active) or 0 (inactive).
func SendStateZabbix(server string, port int, host, key string, active bool) error {
	value := zabbixInactive
	if active {
		value = zabbixActive
	}
	return sendZabbixValue(server, port, host, key, value)
}

// SendTestZabbix re-sends the current state to verify Zabbix config.
// Unlike SendStateZabbix it fails when the config is incomplete.
func SendTestZabbix(server string, port int, host, key string, active bool) error {
	if server == "" || host == "" || key == "" {
		return fmt.Errorf("zabbix server, host and key are required")
	}
	return SendStateZabbix(server, port, host, key, active)
}
