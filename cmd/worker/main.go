package main

import (
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"

	"wordflow/mapreduce/worker"
	"wordflow/rpc/server"
	"wordflow/utils"
)

func main() {
	listenAddr := flag.String("listenAddr", "localhost:9000", "Listen address")
	logLevel := flag.String("loglevel", "info", "Log level")
	flag.Parse()

	level, err := utils.ParseLevel(*logLevel)
	logger := utils.NewLogger(level, os.Stderr)
	if err != nil {
		logger.Warnf("bad log level %q, using %s", *logLevel, level)
	}

	listener, err := net.Listen("tcp", *listenAddr)
	if err != nil {
		logger.Fatalf("[worker] listen on %s: %v", *listenAddr, err)
	}

	s := server.NewServer(logger)
	s.SetLogPrefix("[worker]")
	s.SetRecoverFromPanic(true)
	w := worker.New(*listenAddr, logger)
	w.Register(s)

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		logger.Info("[worker] shutting down")
		listener.Close()
	}()

	logger.Infof("[worker] serving at %s", *listenAddr)
	if err := s.Serve(listener); err != nil {
		logger.Fatalf("[worker] serve: %v", err)
	}
	info := w.Info()
	logger.Infof("[worker] served %d chunks, %d pairs", info.Chunks, info.Pairs)
}
