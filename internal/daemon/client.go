package daemon

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
)

// Client is a control-protocol client for one daemon socket. Not safe
// for concurrent use; requests and responses are strictly paired.
type Client struct {
	conn    net.Conn
	enc     *json.Encoder
	scanner *bufio.Scanner
}

// Dial connects to the daemon's Unix socket.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxLine)
	return &Client{conn: conn, enc: json.NewEncoder(conn), scanner: scanner}, nil
}

// Do sends one request and reads its response. A Response carrying an
// Error is returned as a Go error.
func (c *Client) Do(req Request) (Response, error) {
	if err := c.enc.Encode(req); err != nil {
		return Response{}, err
	}
	resp, err := c.read()
	if err != nil {
		return Response{}, err
	}
	if resp.Error != "" {
		return resp, errors.New(resp.Error)
	}
	return resp, nil
}

// Attach switches the connection into transport mode. After a nil
// error, use NextFrame and Ack; Do must not be called again.
func (c *Client) Attach() error {
	if err := c.enc.Encode(Request{Op: OpAttach}); err != nil {
		return err
	}
	resp, err := c.read()
	if err != nil {
		return err
	}
	if resp.Error != "" {
		return errors.New(resp.Error)
	}
	return nil
}

// NextFrame blocks for the next outbound frame. io.EOF means the
// daemon went away.
func (c *Client) NextFrame() (Frame, error) {
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return Frame{}, err
		}
		return Frame{}, io.EOF
	}
	var f Frame
	if err := json.Unmarshal(c.scanner.Bytes(), &f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// Ack reports the delivery verdict for the last frame.
func (c *Client) Ack(uid string, ok bool, reason string) error {
	return c.enc.Encode(Ack{UID: uid, OK: ok, Error: reason})
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) read() (Response, error) {
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return Response{}, err
		}
		return Response{}, io.EOF
	}
	var resp Response
	if err := json.Unmarshal(c.scanner.Bytes(), &resp); err != nil {
		return Response{}, err
	}
	return resp, nil
}
