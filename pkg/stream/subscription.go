// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package stream provides the typed event layer between the assistant
// backend's event feed and the session coordinator.
//
// This file contains the subscription manager and transports. A
// subscription is an explicit message channel: it yields a sequence of
// typed events to a single handler function, and closing is an explicit
// lifecycle call, never implicit garbage collection.
//
// Invariants enforced here:
//
//   - Exactly one subscription is open per active session id.
//   - Subscribing while already subscribed to the same id is a no-op.
//   - Subscribing under a different id first closes the old
//     subscription. Subscriptions are never leaked or duplicated.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// =============================================================================
// Transport Interface
// =============================================================================

// Transport opens a live event feed at a stream location and pumps
// events into the callback until the context is cancelled, the feed
// ends, or a terminal event arrives.
type Transport interface {
	Open(ctx context.Context, location string, callback Callback) error
}

// =============================================================================
// SSE Transport
// =============================================================================

// sseTransport streams events over a long-lived HTTP response body.
type sseTransport struct {
	client *http.Client
	reader Reader
}

// NewSSETransport creates the primary HTTP/SSE transport.
//
// The client should have no overall timeout: the response body stays
// open for the lifetime of the session. Cancellation is context-driven.
func NewSSETransport(client *http.Client) Transport {
	if client == nil {
		client = &http.Client{}
	}
	return &sseTransport{
		client: client,
		reader: NewSSEReader(NewParser()),
	}
}

// Open performs the GET and consumes the SSE body.
func (t *sseTransport) Open(ctx context.Context, location string, callback Callback) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return fmt.Errorf("build subscription request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("open subscription: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Error("failed to close subscription body", "error", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("subscription rejected (status %d)", resp.StatusCode)
	}

	return t.reader.Read(ctx, resp.Body, callback)
}

// =============================================================================
// WebSocket Transport
// =============================================================================

// wsTransport streams events over a websocket connection. Used when
// the backend hands back a ws:// or wss:// stream location, typically
// for fallback delivery behind proxies that buffer SSE.
type wsTransport struct {
	dialer *websocket.Dialer
	parser Parser
}

// NewWebSocketTransport creates the secondary websocket transport.
func NewWebSocketTransport(dialer *websocket.Dialer) Transport {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &wsTransport{
		dialer: dialer,
		parser: NewParser(),
	}
}

// Open dials the location and reads one JSON event per message.
func (t *wsTransport) Open(ctx context.Context, location string, callback Callback) error {
	conn, resp, err := t.dialer.DialContext(ctx, location, nil)
	if err != nil {
		return fmt.Errorf("dial subscription: %w", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	defer func() {
		if err := conn.Close(); err != nil {
			slog.Error("failed to close websocket", "error", err)
		}
	}()

	// Unblock ReadMessage when the subscription is closed.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			_ = callback(NewErrorEvent(DisconnectReason))
			return fmt.Errorf("read subscription message: %w", err)
		}

		event, err := t.parser.ParseRawJSON(data)
		if err != nil {
			return err
		}
		if event == nil {
			continue
		}
		if err := callback(*event); err != nil {
			return err
		}
		if event.IsTerminal() {
			return nil
		}
	}
}

// =============================================================================
// Subscription Manager
// =============================================================================

// subscription tracks one open event feed.
type subscription struct {
	sessionID string
	cancel    context.CancelFunc
	done      chan struct{}
}

// Manager owns at most one live subscription and enforces the
// one-subscription-per-session invariant.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	sse    Transport
	ws     Transport
	active *subscription
	opens  int
}

// NewManager creates a subscription manager with the default SSE and
// websocket transports.
func NewManager(client *http.Client) *Manager {
	return &Manager{
		sse: NewSSETransport(client),
		ws:  NewWebSocketTransport(nil),
	}
}

// NewManagerWithTransports creates a manager with injected transports.
// Use this constructor for testing with synthetic feeds.
func NewManagerWithTransports(sse, ws Transport) *Manager {
	return &Manager{sse: sse, ws: ws}
}

// Subscribe opens the event feed for sessionID at location.
//
// Subscribing to the already-active session id is a no-op. Subscribing
// under a different id closes the previous subscription first. The
// callback is invoked from the subscription goroutine; it stops
// receiving events once Close is called.
func (m *Manager) Subscribe(sessionID, location string, callback Callback) error {
	if sessionID == "" {
		return fmt.Errorf("subscribe: empty session id")
	}

	m.mu.Lock()
	if m.active != nil && m.active.sessionID == sessionID {
		select {
		case <-m.active.done:
			// The feed already ended; reopen below.
		default:
			m.mu.Unlock()
			slog.Debug("already subscribed", "session_id", sessionID)
			return nil
		}
	}
	prev := m.active
	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		sessionID: sessionID,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	m.active = sub
	m.opens++
	m.mu.Unlock()

	if prev != nil {
		prev.cancel()
		<-prev.done
	}

	transport := m.sse
	if strings.HasPrefix(location, "ws://") || strings.HasPrefix(location, "wss://") {
		transport = m.ws
	}

	go func() {
		defer close(sub.done)
		// A feed that ends on its own (disconnect, terminal event) must
		// release the active slot, or a later re-subscribe under the
		// same session id would no-op against a dead subscription.
		defer func() {
			m.mu.Lock()
			if m.active == sub {
				m.active = nil
			}
			m.mu.Unlock()
		}()

		guarded := func(event Event) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return callback(event)
		}

		if err := transport.Open(ctx, location, guarded); err != nil && ctx.Err() == nil {
			slog.Warn("subscription ended with error",
				"session_id", sessionID,
				"error", err,
			)
		}
	}()

	slog.Debug("subscription opened",
		"session_id", sessionID,
		"location", location,
	)
	return nil
}

// Close tears down the active subscription, if any. Idempotent.
func (m *Manager) Close() {
	m.mu.Lock()
	sub := m.active
	m.active = nil
	m.mu.Unlock()

	if sub == nil {
		return
	}
	sub.cancel()
	<-sub.done
	slog.Debug("subscription closed", "session_id", sub.sessionID)
}

// ActiveSessionID returns the session id of the open subscription, or
// empty if none is open.
func (m *Manager) ActiveSessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return ""
	}
	return m.active.sessionID
}

// OpenCount returns the number of subscriptions opened over the
// manager's lifetime. Exposed for tests verifying that re-ensuring a
// session does not duplicate subscriptions.
func (m *Manager) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens
}

// =============================================================================
// Compile-time Interface Checks
// =============================================================================

var (
	_ Transport = (*sseTransport)(nil)
	_ Transport = (*wsTransport)(nil)
)
