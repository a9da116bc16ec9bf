package client

import (
	"net"
	"sync"

	"wordflow/rpc/helper"

	"google.golang.org/protobuf/proto"
)

// Client is a client for rpc
type Client struct {
	conn net.Conn
	m    sync.Mutex
}

// NewClient creates a new client
func NewClient(conn net.Conn) *Client {
	return &Client{
		conn: conn,
	}
}

// Dial connects to address and wraps the connection in a Client.
func Dial(address string) (*Client, error) {
	conn, err := net.Dial("tcp", address)
	if err != nil {
		return nil, err
	}
	return NewClient(conn), nil
}

// SendRequest sends a request and receives a response. Requests on one
// client are serialized.
func (c *Client) SendRequest(req proto.Message) (resp proto.Message, err error) {
	c.m.Lock()
	defer c.m.Unlock()
	err = helper.Send(c.conn, helper.WrapMessage(req))
	if err != nil {
		return
	}
	payload, err := helper.Receive(c.conn)
	if err != nil {
		return
	}
	resp, err = payload.UnmarshalNew()
	if err != nil {
		return nil, err
	}
	if err := helper.AsError(resp); err != nil {
		return nil, err
	}
	return
}

// Close closes the connection
func (c *Client) Close() error {
	return c.conn.Close()
}
