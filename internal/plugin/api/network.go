package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/omnitak/pluginhost/internal/plugin/perr"
	"github.com/omnitak/pluginhost/internal/plugin/security"
)

// MaxResponseBytes caps how much of a response body is read.
const MaxResponseBytes = 10 << 20

// Request is a single HTTP exchange.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// Response is the result of a Request.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Future is the pending result of a network request. It resolves exactly
// once. Waiting may be abandoned without cancelling; Cancel aborts the
// transport call.
type Future struct {
	done   chan struct{}
	cancel context.CancelFunc
	resp   *Response
	err    error
}

func newFuture(cancel context.CancelFunc) *Future {
	return &Future{done: make(chan struct{}), cancel: cancel}
}

func (f *Future) resolve(resp *Response, err error) {
	f.resp, f.err = resp, err
	close(f.done)
}

// Done is closed when the result is available.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the result is available or ctx is done. Returning
// because ctx is done does not cancel the request.
func (f *Future) Wait(ctx context.Context) (*Response, error) {
	select {
	case <-f.done:
		return f.resp, f.err
	case <-ctx.Done():
		return nil, perr.WrapRuntime(ctx.Err(), "network.request: abandoned")
	}
}

// Cancel aborts the request if it is still in flight.
func (f *Future) Cancel() {
	f.cancel()
}

// NetworkManager performs HTTP requests for a plugin. It keeps no state
// between calls beyond the in-flight set, which is cancelled when the
// context closes.
type NetworkManager struct {
	ctx    *Context
	guard  *security.NetworkGuard
	client HTTPDoer

	base     context.Context
	shutdown context.CancelFunc
	wg       sync.WaitGroup
}

func newNetworkManager(ctx *Context) *NetworkManager {
	base, shutdown := context.WithCancel(context.Background())
	m := &NetworkManager{
		ctx:      ctx,
		guard:    security.NewNetworkGuard(ctx.network),
		base:     base,
		shutdown: shutdown,
	}

	switch c := ctx.providers.HTTP.(type) {
	case nil:
		m.client = m.checkRedirects(http.DefaultClient)
	case *http.Client:
		m.client = m.checkRedirects(c)
	default:
		m.client = c
	}
	return m
}

// checkRedirects returns a copy of c that applies the host policy to
// every redirect before following it.
func (m *NetworkManager) checkRedirects(c *http.Client) *http.Client {
	next := c.CheckRedirect
	cc := *c
	cc.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if err := m.checkURL(req.URL); err != nil {
			return err
		}
		if next != nil {
			return next(req, via)
		}
		if len(via) >= 10 {
			return perr.Runtime("stopped after %d redirects", len(via))
		}
		return nil
	}
	return &cc
}

// checkURL applies the scheme rule and the host policy to u.
func (m *NetworkManager) checkURL(u *url.URL) error {
	if u.Scheme != "http" && u.Scheme != "https" {
		return perr.Runtime("network.request: unsupported scheme %q", u.Scheme)
	}
	return m.guard.CheckHost(u.Host)
}

// Request starts req and returns a Future for its result. Authorization,
// URL and host policy failures are returned immediately; transport
// failures and rate limiting surface through the Future.
// Requires network.access.
func (m *NetworkManager) Request(ctx context.Context, req Request) (*Future, error) {
	if err := m.ctx.authorize(security.NetworkAccess, "network", "request"); err != nil {
		return nil, err
	}

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, perr.WrapRuntime(err, "network.request: invalid url")
	}
	if err := m.checkURL(u); err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(m.base, cancel)
	if timeout := m.guard.Timeout(); timeout > 0 {
		var cancelTimeout context.CancelFunc
		reqCtx, cancelTimeout = context.WithTimeout(reqCtx, timeout)
		prev := cancel
		cancel = func() {
			cancelTimeout()
			prev()
		}
	}

	f := newFuture(cancel)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer stop()
		defer cancel()
		f.resolve(m.do(reqCtx, method, u.String(), req))
	}()

	m.ctx.logger.Debug("network %s %s", method, u.Redacted())
	return f, nil
}

// Do performs req and waits for the result.
func (m *NetworkManager) Do(ctx context.Context, req Request) (*Response, error) {
	f, err := m.Request(ctx, req)
	if err != nil {
		return nil, err
	}
	return f.Wait(ctx)
}

func (m *NetworkManager) do(ctx context.Context, method, target string, req Request) (*Response, error) {
	if !m.guard.Allow() {
		m.ctx.logger.Debug("network: rate limited, waiting")
		if err := m.guard.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, perr.WrapRuntime(err, "network.request")
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := m.client.Do(httpReq)
	m.ctx.metrics.NetworkRequest(time.Since(start))
	if err != nil {
		return nil, perr.WrapRuntime(err, "network.request")
	}
	defer resp.Body.Close()

	// A custom HTTPDoer may follow redirects on its own; refuse the
	// result when it ended up somewhere the policy forbids.
	if resp.Request != nil && resp.Request.URL.String() != target {
		if err := m.checkURL(resp.Request.URL); err != nil {
			return nil, err
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBytes))
	if err != nil {
		return nil, perr.WrapRuntime(err, "network.request: reading body")
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       data,
	}, nil
}

func (m *NetworkManager) release() {
	m.shutdown()
	m.wg.Wait()
}
