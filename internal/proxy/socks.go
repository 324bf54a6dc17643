// Package proxy builds the outbound HTTP clients and websocket dialers,
// optionally through a SOCKS5 proxy.
package proxy

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	ws "github.com/gorilla/websocket"
	"golang.org/x/net/proxy"
)

// NewSocksClient returns a client dialing through socksAddr. An empty address
// gives a direct client.
func NewSocksClient(socksAddr string, timeout time.Duration) (*http.Client, error) {
	dial, err := dialContext(socksAddr)
	if err != nil {
		return nil, err
	}

	transport := &http.Transport{
		DialContext:         dial,
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConnsPerHost: 4,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}, nil
}

// NewDialer returns a websocket dialer that uses the same route.
func NewDialer(socksAddr string) (*ws.Dialer, error) {
	dial, err := dialContext(socksAddr)
	if err != nil {
		return nil, err
	}
	return &ws.Dialer{
		NetDialContext:   dial,
		HandshakeTimeout: 10 * time.Second,
	}, nil
}

func dialContext(socksAddr string) (func(ctx context.Context, network, addr string) (net.Conn, error), error) {
	if socksAddr == "" {
		var d net.Dialer
		return d.DialContext, nil
	}

	dialer, err := proxy.SOCKS5("tcp", socksAddr, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("socks5 %s: %w", socksAddr, err)
	}
	if cd, ok := dialer.(proxy.ContextDialer); ok {
		return cd.DialContext, nil
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return dialer.Dial(network, addr)
	}, nil
}
