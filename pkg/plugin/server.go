package plugin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
)

// Handler is implemented by provider authors. Execute is called once per
// request on the connection's goroutine; ctx is cancelled when the
// connection or server closes.
type Handler interface {
	Capabilities() CapabilitiesMsg
	Execute(ctx context.Context, req Request) Response
}

// ListenAndServe listens on a fresh unix socket, prints the handshake line
// to stdout so the host can discover it, and serves until ctx is done.
func ListenAndServe(ctx context.Context, handler Handler) error {
	sockDir, err := os.MkdirTemp("", "commandcenter-provider-*")
	if err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(sockDir) }()
	sockPath := filepath.Join(sockDir, "provider.sock")

	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	hs := Handshake{Version: HandshakeVersion, Network: "unix", Address: sockPath}
	if _, err := fmt.Fprintln(os.Stdout, hs.String()); err != nil {
		_ = ln.Close()
		return fmt.Errorf("write handshake: %w", err)
	}
	return Serve(ctx, ln, handler)
}

// Serve accepts connections on ln until ctx is done or ln fails. It closes
// ln and waits for open connections before returning.
func Serve(ctx context.Context, ln net.Listener, handler Handler) error {
	ctx, cancel := context.WithCancel(ctx)
	context.AfterFunc(ctx, func() { _ = ln.Close() })

	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			ServeConnection(ctx, handler, conn)
		}()
	}
}

// ServeConnection answers requests on conn until it breaks or ctx is done.
func ServeConnection(ctx context.Context, handler Handler, conn net.Conn) {
	defer func() { _ = conn.Close() }()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		var req Request
		if err := ReadMessage(conn, &req); err != nil {
			return
		}

		var resp Response
		switch req.Method {
		case MethodCapabilities:
			caps := handler.Capabilities()
			resp.Caps = &caps
		case MethodExecute:
			resp = execute(ctx, handler, req)
		default:
			resp.Error = fmt.Sprintf("unknown method %q", req.Method)
		}
		resp.CallID = req.ID

		if err := WriteMessage(conn, &resp); err != nil {
			return
		}
	}
}

func execute(ctx context.Context, handler Handler, req Request) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			resp = Response{Error: fmt.Sprintf("provider panicked: %v", r)}
		}
	}()
	return handler.Execute(ctx, req)
}
