package utils

import (
	"wordflow/rpc/client"

	"google.golang.org/protobuf/proto"
)

// SendSingleRequest send a single request to a server and receive a response
func SendSingleRequest(address string, req proto.Message) (resp proto.Message, err error) {
	c, err := client.Dial(address)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	return c.SendRequest(req)
}
