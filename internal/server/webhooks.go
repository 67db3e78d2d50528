package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"closeline/internal/agreement"
	"closeline/internal/config"
	"closeline/internal/domain"
	"closeline/internal/engine"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// WebhookDispatcher posts committed events to the configured webhooks. Each
// hook keeps its own cursor and starts at the newest event present when the
// dispatcher first polls it. A failed delivery is retried on the next poll.
type WebhookDispatcher struct {
	engine   *engine.Engine
	webhooks []config.WebhookConfig
	client   *http.Client
	log      logrus.FieldLogger
	Interval time.Duration

	mu      sync.Mutex
	cursors map[int]int64
}

// NewWebhookDispatcher returns nil when no webhooks are configured.
func NewWebhookDispatcher(e *engine.Engine, hooks []config.WebhookConfig, log logrus.FieldLogger) *WebhookDispatcher {
	if len(hooks) == 0 {
		return nil
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &WebhookDispatcher{
		engine:   e,
		webhooks: hooks,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		log:      log.WithField("component", "webhooks"),
		Interval: defaultWebhookInterval,
		cursors:  make(map[int]int64),
	}
}

// Run polls until ctx is done.
func (d *WebhookDispatcher) Run(ctx context.Context) {
	if d == nil {
		return
	}
	ticker := time.NewTicker(d.Interval)
	defer ticker.Stop()
	for {
		d.DispatchAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DispatchAll runs one delivery pass over every enabled hook.
func (d *WebhookDispatcher) DispatchAll(ctx context.Context) {
	for i, hook := range d.webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		d.dispatchWebhook(ctx, i, hook)
	}
}

func (d *WebhookDispatcher) dispatchWebhook(ctx context.Context, idx int, hook config.WebhookConfig) {
	cursor, ok := d.cursorFor(ctx, idx, hook)
	if !ok {
		return
	}
	events, err := d.engine.Events(ctx, domain.EventQuery{AppID: hook.AppID, AfterID: cursor, Limit: defaultWebhookBatch})
	if err != nil {
		d.log.WithError(err).Warn("fetch events failed")
		return
	}
	filter := newEventFilter(hook.Events)
	for _, evt := range events {
		if !filter.match(evt.Type) {
			d.setCursor(idx, evt.ID)
			continue
		}
		if err := d.postEvent(ctx, hook, evt); err != nil {
			d.log.WithError(err).WithField("url", hook.URL).Warn("delivery failed")
			return
		}
		d.setCursor(idx, evt.ID)
	}
}

func (d *WebhookDispatcher) cursorFor(ctx context.Context, idx int, hook config.WebhookConfig) (int64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur, true
	}
	existing, err := d.engine.Events(ctx, domain.EventQuery{AppID: hook.AppID})
	if err != nil {
		d.log.WithError(err).Warn("init cursor failed")
		return 0, false
	}
	var cur int64
	if n := len(existing); n > 0 {
		cur = existing[n-1].ID
	}
	d.cursors[idx] = cur
	return cur, true
}

func (d *WebhookDispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

type webhookEvent struct {
	ID     int64             `json:"id"`
	Type   string            `json:"type"`
	AppID  uint64            `json:"app_id"`
	TxnID  string            `json:"txn_id"`
	Seq    int               `json:"seq"`
	TS     string            `json:"ts"`
	Fields []agreement.Field `json:"fields"`
	Logs   [][]byte          `json:"logs"`
}

func (d *WebhookDispatcher) postEvent(ctx context.Context, hook config.WebhookConfig, evt domain.Event) error {
	body := webhookEvent{
		ID:     evt.ID,
		Type:   evt.Type,
		AppID:  evt.AppID,
		TxnID:  evt.TxnID,
		Seq:    evt.Seq,
		TS:     evt.TS,
		Fields: evt.Fields,
		Logs:   evt.Logs(),
	}
	if body.Fields == nil {
		body.Fields = []agreement.Field{}
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	client := d.client
	if hook.TimeoutSeconds > 0 {
		if timeout := time.Duration(hook.TimeoutSeconds) * time.Second; timeout != d.client.Timeout {
			client = &http.Client{Timeout: timeout}
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Closeline-Event", evt.Type)
	req.Header.Set("X-Closeline-Delivery", fmt.Sprintf("%d", evt.ID))
	req.Header.Set("X-Closeline-App", fmt.Sprintf("%d", evt.AppID))
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Closeline-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	if len(events) == 0 {
		return eventFilter{all: true}
	}
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
