package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"wordflow/rpc/helper"

	log "github.com/sirupsen/logrus"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
)

// Context contains the context information for a RPC request.
type Context struct {
	Address string
}

// HandlerFunc is the handler function for a RPC request.
type HandlerFunc func(ctx Context, req proto.Message) (resp proto.Message, err error)

// Server is a RPC server.
type Server struct {
	handlerMap       map[protoreflect.FullName]HandlerFunc
	logger           *log.Logger
	logPrefix        string
	recoverFromPanic bool

	mutex sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// NewServer creates a new Server instance.
func NewServer(logger *log.Logger) *Server {
	return &Server{
		handlerMap: make(map[protoreflect.FullName]HandlerFunc),
		logger:     logger,
		logPrefix:  "[rpc server]",
		conns:      make(map[net.Conn]struct{}),
	}
}

// SetLogPrefix sets the prefix of the log messages.
func (s *Server) SetLogPrefix(prefix string) {
	s.logPrefix = prefix
}

// SetRecoverFromPanic sets whether the server should recover from panic caused
// by the registered handlers
func (s *Server) SetRecoverFromPanic(recover bool) {
	s.recoverFromPanic = recover
}

func (s *Server) entry(remoteAddr string) *log.Entry {
	return s.logger.WithField("remote", remoteAddr)
}

// RegisterByTypeUrl registers the handler for the specified request message type.
func (s *Server) RegisterByTypeUrl(typeUrl string, handler HandlerFunc) error {
	mt, err := protoregistry.GlobalTypes.FindMessageByURL(typeUrl)
	if err != nil {
		return err
	}
	s.handlerMap[mt.Descriptor().FullName()] = handler
	return nil
}

// RegisterByMessage registers the handler for the specified request message.
func (s *Server) RegisterByMessage(msg proto.Message, handler HandlerFunc) {
	s.handlerMap[proto.MessageName(msg)] = handler
}

// handle handles the request and returns the response.
func (s *Server) handle(ctx Context, req proto.Message) (resp proto.Message, err error) {
	name := proto.MessageName(req)
	handler, ok := s.handlerMap[name]
	if !ok {
		err = fmt.Errorf("no handler for type %s", name)
		return
	}
	if s.recoverFromPanic {
		defer func() {
			// recover from panic
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
	}
	return handler(ctx, req)
}

// handleConn handles the connection.
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)
	remoteAddr := conn.RemoteAddr().String()
	for {
		req, err := helper.Receive(conn)
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				s.entry(remoteAddr).Warnf("%s receive error: %v, closing conn", s.logPrefix, err)
			}
			return
		}

		var respMsg proto.Message
		reqMsg, err := req.UnmarshalNew()
		if err != nil {
			s.entry(remoteAddr).Warnf("%s unknown request type %s, send back error", s.logPrefix, req.GetTypeUrl())
			respMsg = helper.ErrorMessage(err)
		} else {
			ctx := Context{
				Address: remoteAddr,
			}
			respMsg, err = s.handle(ctx, reqMsg)
			if err != nil {
				respMsg = helper.ErrorMessage(err)
				s.entry(remoteAddr).Warnf("%s request (%s) handled with error: %s", s.logPrefix, req.GetTypeUrl(), err)
			} else {
				s.entry(remoteAddr).Debugf("%s request (%s) handled successful", s.logPrefix, req.GetTypeUrl())
			}
		}
		// send back the response
		if err := helper.Send(conn, helper.WrapMessage(respMsg)); err != nil {
			s.entry(remoteAddr).Warnf("%s send message failed: %v", s.logPrefix, err)
			return
		}
	}
}

func (s *Server) track(conn net.Conn) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *Server) untrack(conn net.Conn) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.conns, conn)
	conn.Close()
}

// Serve accepts connections until the listener is closed, then closes the
// open connections and waits for their handlers to return.
func (s *Server) Serve(listener net.Listener) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.closeAll()
				s.wg.Wait()
				return nil
			}
			s.logger.Warnf("%s accept error: %v", s.logPrefix, err)
			continue
		}
		s.track(conn)
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) closeAll() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for conn := range s.conns {
		conn.Close()
	}
}
