// Package rcon implements the Source RCON protocol: length-prefixed
// little-endian packets over TCP, password authentication, then
// request/response command execution.
package rcon

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

const (
	typeResponse     int32 = 0
	typeCommand      int32 = 2
	typeAuthResponse int32 = 2
	typeAuth         int32 = 3

	// Packet length field covers id + type + body + two trailing NULs.
	headerSize  = 10
	maxBodySize = 4096
)

var (
	ErrAuthFailed  = errors.New("rcon: authentication refused")
	ErrBadResponse = errors.New("rcon: malformed response packet")
)

// Client is a single authenticated RCON session. Not safe for concurrent
// use; the connection layer above serializes access.
type Client struct {
	conn    net.Conn
	timeout time.Duration
	reqID   int32
}

// Dial connects to addr, authenticates with password, and returns a ready
// session. The timeout applies to the dial and to every subsequent
// request/response exchange.
func Dial(addr, password string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("rcon: dial %s: %w", addr, err)
	}
	c := &Client{conn: conn, timeout: timeout}
	if err := c.auth(password); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) auth(password string) error {
	id, err := c.writePacket(typeAuth, password)
	if err != nil {
		return err
	}
	// Some servers send an empty RESPONSE_VALUE before the auth response.
	for i := 0; i < 2; i++ {
		gotID, gotType, _, err := c.readPacket()
		if err != nil {
			return err
		}
		if gotType != typeAuthResponse {
			continue
		}
		if gotID == -1 {
			return ErrAuthFailed
		}
		if gotID != id {
			return ErrBadResponse
		}
		return nil
	}
	return ErrBadResponse
}

// Command sends a command string and returns the server's textual response.
func (c *Client) Command(cmd string) (string, error) {
	id, err := c.writePacket(typeCommand, cmd)
	if err != nil {
		return "", err
	}
	gotID, gotType, body, err := c.readPacket()
	if err != nil {
		return "", err
	}
	if gotType != typeResponse || gotID != id {
		return "", ErrBadResponse
	}
	return body, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) writePacket(typ int32, body string) (int32, error) {
	if len(body) > maxBodySize {
		return 0, fmt.Errorf("rcon: body too large (%d bytes)", len(body))
	}
	c.reqID++
	id := c.reqID

	var buf bytes.Buffer
	size := int32(headerSize + len(body))
	binary.Write(&buf, binary.LittleEndian, size)
	binary.Write(&buf, binary.LittleEndian, id)
	binary.Write(&buf, binary.LittleEndian, typ)
	buf.WriteString(body)
	buf.Write([]byte{0, 0})

	if c.timeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	}
	if _, err := c.conn.Write(buf.Bytes()); err != nil {
		return 0, fmt.Errorf("rcon: write: %w", err)
	}
	return id, nil
}

func (c *Client) readPacket() (id, typ int32, body string, err error) {
	if c.timeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	}
	var size int32
	if err = binary.Read(c.conn, binary.LittleEndian, &size); err != nil {
		return 0, 0, "", fmt.Errorf("rcon: read size: %w", err)
	}
	if size < headerSize || size > headerSize+maxBodySize {
		return 0, 0, "", ErrBadResponse
	}
	payload := make([]byte, size)
	if _, err = io.ReadFull(c.conn, payload); err != nil {
		return 0, 0, "", fmt.Errorf("rcon: read payload: %w", err)
	}
	id = int32(binary.LittleEndian.Uint32(payload[0:4]))
	typ = int32(binary.LittleEndian.Uint32(payload[4:8]))
	body = string(payload[8 : size-2])
	return id, typ, body, nil
}
