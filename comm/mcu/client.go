// Package mcu talks to the remote motor controller over a line-delimited
// JSON-RPC link, reachable through a serial port or the router's unix
// socket. The firmware owns the step/dir pins and limit switch inputs; this
// client exposes them as motor.Driver instances, one per axis.
package mcu

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/jt05610/sampler/motor"
	"go.uber.org/zap"
)

var (
	// ErrDisconnected indicates the firmware link is down or unresponsive.
	// Callers must be able to tell this from real motion failure, so it is
	// never folded into a generic error.
	ErrDisconnected = errors.New("mcu unreachable")

	// ErrLimitBlocked indicates the firmware refused a pulse because its
	// own limit check tripped. The host checks switches before pulsing, so
	// seeing this means host and firmware disagree about switch state.
	ErrLimitBlocked = errors.New("pulse refused by firmware limit check")
)

type request struct {
	ID     uint32 `json:"id"`
	Method string `json:"method"`
	Params []any  `json:"params"`
}

type response struct {
	ID     uint32          `json:"id"`
	Error  *string         `json:"error"`
	Result json.RawMessage `json:"result"`
}

// Client is a synchronous RPC client. One request is in flight at a time;
// the firmware executes motion commands to completion before replying.
type Client struct {
	mu     sync.Mutex
	rw     io.ReadWriteCloser
	enc    *json.Encoder
	sc     *bufio.Scanner
	nextID uint32
	logger *zap.Logger
}

func NewClient(rw io.ReadWriteCloser, logger *zap.Logger) *Client {
	return &Client{
		rw:     rw,
		enc:    json.NewEncoder(rw),
		sc:     bufio.NewScanner(rw),
		logger: logger,
	}
}

// Dial connects to the router's unix socket.
func Dial(socketPath string, logger *zap.Logger) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDisconnected, err)
	}
	return NewClient(conn, logger), nil
}

func (c *Client) Close() error {
	return c.rw.Close()
}

func (c *Client) call(method string, params ...any) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	req := request{ID: c.nextID, Method: method, Params: params}
	if err := c.enc.Encode(&req); err != nil {
		return nil, fmt.Errorf("%w: send %s: %s", ErrDisconnected, method, err)
	}
	if !c.sc.Scan() {
		if err := c.sc.Err(); err != nil {
			return nil, fmt.Errorf("%w: recv %s: %s", ErrDisconnected, method, err)
		}
		return nil, fmt.Errorf("%w: link closed during %s", ErrDisconnected, method)
	}
	var resp response
	if err := json.Unmarshal(c.sc.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("parse %s response: %w", method, err)
	}
	if resp.ID != req.ID {
		return nil, fmt.Errorf("%s: response id %d for request %d", method, resp.ID, req.ID)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%s: firmware error: %s", method, *resp.Error)
	}
	return resp.Result, nil
}

// Ping verifies the firmware is alive.
func (c *Client) Ping() error {
	res, err := c.call("ping")
	if err != nil {
		return err
	}
	var s string
	if err := json.Unmarshal(res, &s); err != nil || s != "pong" {
		return fmt.Errorf("%w: unexpected ping reply %s", ErrDisconnected, res)
	}
	return nil
}

// Move pulses a motor. The firmware returns the number of steps actually
// executed; short counts mean its limit check interrupted the move.
func (c *Client) Move(motorID int, steps int64, dir motor.Direction, delayUS int64) (int64, error) {
	res, err := c.call("move", motorID, steps, dirWire(dir), delayUS)
	if err != nil {
		return 0, err
	}
	var executed int64
	if err := json.Unmarshal(res, &executed); err != nil {
		return 0, fmt.Errorf("parse move result: %w", err)
	}
	if executed < 0 {
		return 0, fmt.Errorf("move: firmware error code %d", executed)
	}
	return executed, nil
}

// Limit reads one switch of one motor.
func (c *Client) Limit(motorID int, l motor.Limit) (bool, error) {
	res, err := c.call("get_limit", motorID, limitWire(l))
	if err != nil {
		return false, err
	}
	var v int
	if err := json.Unmarshal(res, &v); err != nil {
		return false, fmt.Errorf("parse get_limit result: %w", err)
	}
	return v == 1, nil
}

// Release de-energizes one motor's coils.
func (c *Client) Release(motorID int) error {
	_, err := c.call("stop", motorID)
	return err
}

// StopAll de-energizes every motor immediately.
func (c *Client) StopAll() error {
	_, err := c.call("stop_all")
	return err
}

// Wire encoding matches the firmware: direction 0 is counterclockwise,
// 1 clockwise; limit 0 is min, 1 is max.
func dirWire(d motor.Direction) int {
	if d == motor.Clockwise {
		return 1
	}
	return 0
}

func limitWire(l motor.Limit) int {
	if l == motor.LimitMax {
		return 1
	}
	return 0
}
