package receiver

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"time"
)

const controlClientTimeout = 5 * time.Second

// ControlClient talks to a receiver's admin endpoint over one persistent
// connection. It is not safe for concurrent use.
type ControlClient struct {
	addr string
	conn net.Conn
	r    *bufio.Reader
}

func NewControlClient(addr string) *ControlClient {
	return &ControlClient{addr: strings.TrimSpace(addr)}
}

func (c *ControlClient) Address() string {
	return c.addr
}

// Call runs one admin action and returns the raw data of a successful
// reply. A failed action comes back as an error carrying its message.
func (c *ControlClient) Call(action, name string, frame int) (json.RawMessage, error) {
	if err := c.ensureConn(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(controlRequest{Action: action, Name: name, Frame: frame})
	if err != nil {
		return nil, err
	}
	payload = append(payload, '\n')
	_ = c.conn.SetWriteDeadline(time.Now().Add(controlClientTimeout))
	if _, err := c.conn.Write(payload); err != nil {
		c.resetConn()
		return nil, err
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(controlClientTimeout))
	line, err := c.r.ReadBytes('\n')
	if err != nil {
		c.resetConn()
		return nil, err
	}
	var resp struct {
		OK    bool            `json:"ok"`
		Error string          `json:"error"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, errors.New(resp.Error)
	}
	return resp.Data, nil
}

func (c *ControlClient) ensureConn() error {
	if c.conn != nil {
		return nil
	}
	conn, err := net.DialTimeout("tcp", c.addr, 3*time.Second)
	if err != nil {
		return err
	}
	c.conn = conn
	c.r = bufio.NewReader(conn)
	return nil
}

func (c *ControlClient) resetConn() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = nil
	c.r = nil
}

func (c *ControlClient) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.r = nil
	return err
}
