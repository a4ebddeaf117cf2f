package devices

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"enviroctl/internal/config"
	"enviroctl/internal/models"
	"enviroctl/internal/power"
	"enviroctl/internal/safety"
)

const (
	defaultKasaPort = 9999
	kasaDialTimeout = 5 * time.Second
	kasaIOTimeout   = 5 * time.Second

	// Initial key of the autokey XOR cipher used by the device protocol.
	kasaCipherKey = 171
)

// KasaStrip drives one outlet of a TP-Link smart power strip over its
// TCP JSON protocol. The strip's on-device countdown module provides the
// safety-fallback timer.
type KasaStrip struct {
	id         string
	outletName string
	addr       string
	logger     *logrus.Logger

	// dial is swappable so tests can point the driver at a local fake.
	dial func(ctx context.Context) (net.Conn, error)

	mutex   sync.Mutex
	childID string
	guard   *safety.Guard
}

func NewKasaStrip(cfg config.DeviceConfig, logger *logrus.Logger) (*KasaStrip, error) {
	control := cfg.Control

	if control.OutletName == "" {
		return nil, fmt.Errorf("kasa_strip %q requires control.outlet_name", cfg.ID)
	}
	if control.Host == "" {
		return nil, fmt.Errorf("kasa_strip %q requires control.host", cfg.ID)
	}

	port := control.Port
	if port == 0 {
		port = defaultKasaPort
	}

	addr := fmt.Sprintf("%s:%d", control.Host, port)

	return &KasaStrip{
		id:         cfg.ID,
		outletName: control.OutletName,
		addr:       addr,
		logger:     logger,
		dial: func(ctx context.Context) (net.Conn, error) {
			dialer := net.Dialer{Timeout: kasaDialTimeout}
			return dialer.DialContext(ctx, "tcp", addr)
		},
	}, nil
}

// SetGuard attaches the resolved safety guard. The guard is re-applied
// after every commanded state.
func (k *KasaStrip) SetGuard(guard *safety.Guard) {
	k.guard = guard
}

// Initialize locates the configured outlet on the strip and caches its
// child ID for relay and countdown commands.
func (k *KasaStrip) Initialize(ctx context.Context) error {
	info, err := k.sysinfo(ctx)
	if err != nil {
		return fmt.Errorf("kasa_strip %q: %w", k.id, err)
	}

	for _, child := range info.Children {
		if strings.EqualFold(child.Alias, k.outletName) {
			k.mutex.Lock()
			k.childID = child.ID
			k.mutex.Unlock()

			k.logger.WithFields(logrus.Fields{
				"component": "device",
				"entity":    k.id,
			}).Infof("KASA outlet '%s' at %s is ready for commands", k.outletName, k.addr)
			return nil
		}
	}

	available := make([]string, 0, len(info.Children))
	for _, child := range info.Children {
		available = append(available, child.Alias)
	}

	return fmt.Errorf("kasa_strip %q: outlet %q not found, available outlets: %v",
		k.id, k.outletName, available)
}

func (k *KasaStrip) IsOn(ctx context.Context) (bool, error) {
	info, err := k.sysinfo(ctx)
	if err != nil {
		return false, err
	}

	childID := k.child()
	for _, child := range info.Children {
		if child.ID == childID {
			return child.State == 1, nil
		}
	}

	return false, fmt.Errorf("outlet %q not present in sysinfo response", k.outletName)
}

func (k *KasaStrip) TurnOn(ctx context.Context) (models.PowerCommandResult, error) {
	return k.applyState(ctx, true)
}

func (k *KasaStrip) TurnOff(ctx context.Context) (models.PowerCommandResult, error) {
	return k.applyState(ctx, false)
}

func (k *KasaStrip) applyState(ctx context.Context, on bool) (models.PowerCommandResult, error) {
	result, err := power.EnsurePowerState(ctx, power.Request{
		DesiredOn: on,
		DeviceID:  k.id,
		Label:     k.outletName,
		ReadState: k.IsOn,
		Command: func(ctx context.Context) error {
			return k.setRelayState(ctx, on)
		},
	}, k.logger)
	if err != nil {
		return result, err
	}

	k.guard.Apply(ctx, on)

	return result, nil
}

func (k *KasaStrip) Metadata() map[string]any {
	return map[string]any{
		"id":      k.id,
		"kind":    "kasa_strip",
		"address": k.addr,
		"outlet":  k.outletName,
	}
}

// ClearCountdown removes every countdown rule for the outlet.
func (k *KasaStrip) ClearCountdown(ctx context.Context) error {
	request := map[string]any{
		"context":    map[string]any{"child_ids": []string{k.child()}},
		"count_down": map[string]any{"delete_all_rules": map[string]any{}},
	}

	var response struct {
		CountDown struct {
			DeleteAllRules kasaReply `json:"delete_all_rules"`
		} `json:"count_down"`
	}

	if err := k.roundTrip(ctx, request, &response); err != nil {
		return err
	}

	return response.CountDown.DeleteAllRules.err("delete_all_rules")
}

// AddCountdown programs a one-shot rule flipping the outlet after the
// delay.
func (k *KasaStrip) AddCountdown(ctx context.Context, delaySeconds int, turnOn bool) error {
	act := 0
	if turnOn {
		act = 1
	}

	request := map[string]any{
		"context": map[string]any{"child_ids": []string{k.child()}},
		"count_down": map[string]any{
			"add_rule": map[string]any{
				"enable": 1,
				"delay":  delaySeconds,
				"act":    act,
				"name":   "enviroctl safety fallback",
			},
		},
	}

	var response struct {
		CountDown struct {
			AddRule kasaReply `json:"add_rule"`
		} `json:"count_down"`
	}

	if err := k.roundTrip(ctx, request, &response); err != nil {
		return err
	}

	return response.CountDown.AddRule.err("add_rule")
}

func (k *KasaStrip) setRelayState(ctx context.Context, on bool) error {
	state := 0
	if on {
		state = 1
	}

	request := map[string]any{
		"context": map[string]any{"child_ids": []string{k.child()}},
		"system":  map[string]any{"set_relay_state": map[string]any{"state": state}},
	}

	var response struct {
		System struct {
			SetRelayState kasaReply `json:"set_relay_state"`
		} `json:"system"`
	}

	if err := k.roundTrip(ctx, request, &response); err != nil {
		return err
	}

	return response.System.SetRelayState.err("set_relay_state")
}

type kasaSysinfo struct {
	Alias    string `json:"alias"`
	DeviceID string `json:"deviceId"`
	Children []struct {
		ID    string `json:"id"`
		Alias string `json:"alias"`
		State int    `json:"state"`
	} `json:"children"`
}

func (k *KasaStrip) sysinfo(ctx context.Context) (*kasaSysinfo, error) {
	request := map[string]any{
		"system": map[string]any{"get_sysinfo": map[string]any{}},
	}

	var response struct {
		System struct {
			GetSysinfo kasaSysinfo `json:"get_sysinfo"`
		} `json:"system"`
	}

	if err := k.roundTrip(ctx, request, &response); err != nil {
		return nil, err
	}

	return &response.System.GetSysinfo, nil
}

type kasaReply struct {
	ErrCode int `json:"err_code"`
}

func (r kasaReply) err(op string) error {
	if r.ErrCode != 0 {
		return fmt.Errorf("device rejected %s (err_code=%d)", op, r.ErrCode)
	}
	return nil
}

func (k *KasaStrip) child() string {
	k.mutex.Lock()
	defer k.mutex.Unlock()
	return k.childID
}

// roundTrip opens a connection, sends one encrypted request and decodes
// the reply. The strip protocol is one request per connection.
func (k *KasaStrip) roundTrip(ctx context.Context, request, response any) error {
	conn, err := k.dial(ctx)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", k.addr, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(kasaIOTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return err
	}

	payload, err := json.Marshal(request)
	if err != nil {
		return err
	}

	if _, err := conn.Write(encryptKasa(payload)); err != nil {
		return fmt.Errorf("write to %s: %w", k.addr, err)
	}

	var length uint32
	if err := binary.Read(conn, binary.BigEndian, &length); err != nil {
		return fmt.Errorf("read from %s: %w", k.addr, err)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(conn, body); err != nil {
		return fmt.Errorf("read from %s: %w", k.addr, err)
	}

	decrypted := decryptKasa(body)
	if err := json.Unmarshal(decrypted, response); err != nil {
		return fmt.Errorf("decode response from %s: %w", k.addr, err)
	}

	return nil
}

// encryptKasa applies the autokey XOR cipher and prefixes the big-endian
// length expected on the TCP transport.
func encryptKasa(plain []byte) []byte {
	out := make([]byte, 4+len(plain))
	binary.BigEndian.PutUint32(out, uint32(len(plain)))

	key := byte(kasaCipherKey)
	for i, b := range plain {
		key ^= b
		out[4+i] = key
	}

	return out
}

func decryptKasa(cipher []byte) []byte {
	out := make([]byte, len(cipher))

	key := byte(kasaCipherKey)
	for i, b := range cipher {
		out[i] = key ^ b
		key = b
	}

	return out
}
