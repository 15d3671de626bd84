package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	SeverityWarning = "warning"
	SeverityInfo    = "info"
)

type Notification struct {
	Severity string
	Message  string
	Update   DeviceUpdate
}

type FeedOptions struct {
	// URL of the WebSocket endpoint, e.g. ws://host/api/ws.
	URL            string
	Tokens         TokenStore
	ReconnectDelay time.Duration
	HistorySize    int
	OnNotification func(Notification)
	Dialer         *websocket.Dialer
	Logger         zerolog.Logger
}

// Feed consumes the live device channel. It reconnects after a fixed delay
// for as long as its context lives and skips a message identical to the one
// right before it.
type Feed struct {
	opts FeedOptions

	mu      sync.Mutex
	last    *DeviceUpdate
	history []DeviceUpdate
	// helping holds the devices last seen asking for help.
	helping map[string]bool
}

func NewFeed(opts FeedOptions) *Feed {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 2 * time.Second
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = 20
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Feed{opts: opts, helping: make(map[string]bool)}
}

// Run blocks until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	for {
		err := f.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		f.opts.Logger.Warn().Err(err).Dur("retry_in", f.opts.ReconnectDelay).Msg("live feed disconnected")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(f.opts.ReconnectDelay):
		}
	}
}

func (f *Feed) session(ctx context.Context) error {
	target, err := url.Parse(f.opts.URL)
	if err != nil {
		return fmt.Errorf("parse feed url: %w", err)
	}
	header := http.Header{}
	if f.opts.Tokens != nil {
		if token := f.opts.Tokens.Access(); token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
	}

	conn, _, err := f.opts.Dialer.DialContext(ctx, target.String(), header)
	if err != nil {
		return fmt.Errorf("dial live feed: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if n, ok := f.Handle(raw); ok && f.opts.OnNotification != nil {
			f.opts.OnNotification(n)
		}
	}
}

// Handle records one pushed frame. It reports false for malformed frames
// and for repeats of the previous message.
func (f *Feed) Handle(raw []byte) (Notification, bool) {
	var update DeviceUpdate
	if err := json.Unmarshal(raw, &update); err != nil || update.ID == "" {
		return Notification{}, false
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.last != nil && f.last.ID == update.ID && f.last.UpdatedAt.Equal(update.UpdatedAt) {
		return Notification{}, false
	}
	f.last = &update

	f.history = append(f.history, update)
	if over := len(f.history) - f.opts.HistorySize; over > 0 {
		f.history = append(f.history[:0:0], f.history[over:]...)
	}

	wasHelping := f.helping[update.ID]
	if update.HelpNeeded {
		f.helping[update.ID] = true
		return Notification{
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("Device %s needs help", update.ID),
			Update:   update,
		}, true
	}
	delete(f.helping, update.ID)

	msg := fmt.Sprintf("Device %s updated", update.ID)
	if wasHelping {
		msg = fmt.Sprintf("Device %s no longer needs help", update.ID)
	}
	return Notification{Severity: SeverityInfo, Message: msg, Update: update}, true
}

// History returns the most recent updates, oldest first.
func (f *Feed) History() []DeviceUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]DeviceUpdate(nil), f.history...)
}
