// Package transport binds the already-specified rpc.Server/rpc.Transport
// contract to a socket. The HTTP/TLS server plumbing itself is named out
// of scope (spec §1): this file is deliberately thin, calling straight
// into net/http and crypto/tls rather than building a parallel transport
// abstraction of its own. Every RPC is one POST carrying the request
// frame and an optional payload frame (§6); the reply travels back the
// same way.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"

	"github.com/syndicate-storage/syndicate-sub005/internal/config"
	"github.com/syndicate-storage/syndicate-sub005/rpc"
	"github.com/syndicate-storage/syndicate-sub005/wire"
)

// Addressor resolves the gateway id a Client call targets to a reachable
// URL. Gateway address discovery is the MS's job (out of scope, spec
// §1); this is the seam a concrete msclient.Client-backed directory
// would fill in.
type Addressor func(gatewayID uint64) (string, error)

// Client implements rpc.Transport over one plain HTTP POST per call.
type Client struct {
	HTTP    *http.Client
	Addr    Addressor
	Path    string // defaults to "/rpc"
}

// NewClient builds a Client; httpClient may be nil to use http.DefaultClient.
func NewClient(httpClient *http.Client, addr Addressor) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{HTTP: httpClient, Addr: addr, Path: "/rpc"}
}

// RoundTrip satisfies rpc.Transport.
func (c *Client) RoundTrip(ctx context.Context, gatewayID uint64, req *wire.RequestData, payload []byte) (*wire.Reply, []byte, error) {
	base, err := c.Addr(gatewayID)
	if err != nil {
		return nil, nil, fmt.Errorf("transport.Client.RoundTrip: resolving gateway %d: %w", gatewayID, err)
	}

	pr, pw := io.Pipe()
	go func() {
		err := wire.WriteFrame(pw, req.Marshal())
		if err == nil {
			err = wire.WriteFrame(pw, payload)
		}
		pw.CloseWithError(err)
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path(c.Path), pr)
	if err != nil {
		return nil, nil, fmt.Errorf("transport.Client.RoundTrip: %w", err)
	}
	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, nil, fmt.Errorf("transport.Client.RoundTrip: %w", err)
	}
	defer resp.Body.Close()

	replyBytes, err := wire.ReadFrame(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("transport.Client.RoundTrip: reading reply: %w", err)
	}
	reply, err := wire.UnmarshalReply(replyBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("transport.Client.RoundTrip: %w", err)
	}
	out, err := wire.ReadFrame(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("transport.Client.RoundTrip: reading payload: %w", err)
	}
	return reply, out, nil
}

func path(p string) string {
	if p == "" {
		return "/rpc"
	}
	return p
}

// Handler adapts an rpc.Server to http.Handler, decoding the request and
// optional payload frame from the body and framing the reply the same
// way back (spec §6 "Gateway-to-gateway wire format").
func Handler(srv *rpc.Server) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqBytes, err := wire.ReadFrame(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		req, err := wire.Unmarshal(reqBytes)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		payload, err := wire.ReadFrame(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		reply, out := srv.Handle(r.Context(), req, payload)
		if err := wire.WriteFrame(w, reply.Marshal()); err != nil {
			return
		}
		_ = wire.WriteFrame(w, out)
	})
}

// Serve binds h to addr, using cfg's -T/-C keypair for TLS when both are
// set and plain HTTP otherwise (operators terminating TLS at a front
// proxy are expected to leave both unset).
func Serve(ctx context.Context, addr string, cfg *config.Config, h http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: h}

	errCh := make(chan error, 1)
	go func() {
		if cfg.TLSKey != "" && cfg.TLSCert != "" {
			cert, err := tls.LoadX509KeyPair(cfg.TLSCert, cfg.TLSKey)
			if err != nil {
				errCh <- fmt.Errorf("transport.Serve: loading TLS keypair: %w", err)
				return
			}
			srv.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
			errCh <- srv.ListenAndServeTLS("", "")
			return
		}
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
