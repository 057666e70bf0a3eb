package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"plantline/internal/config"
	"plantline/internal/domain"
	"plantline/internal/engine"
)

const (
	defaultHookInterval = 2 * time.Second
	defaultHookTimeout  = 5 * time.Second
	defaultHookBatch    = 100
)

// hookDispatcher polls the event log and posts new events to the configured
// notification endpoints. Each hook keeps an independent cursor; a failed
// delivery blocks only that hook's cursor and is retried next tick.
type hookDispatcher struct {
	engine  engine.Engine
	hooks   []config.HookConfig
	client  *http.Client
	mu      sync.Mutex
	cursors map[int]int64
}

func startHookDispatcher(e engine.Engine) {
	if e.Config == nil || len(e.Config.Hooks) == 0 {
		return
	}
	d := &hookDispatcher{
		engine:  e,
		hooks:   e.Config.Hooks,
		client:  &http.Client{Timeout: defaultHookTimeout},
		cursors: make(map[int]int64),
	}
	go d.run()
}

func (d *hookDispatcher) run() {
	ticker := time.NewTicker(defaultHookInterval)
	defer ticker.Stop()
	for {
		d.dispatchAll()
		<-ticker.C
	}
}

func (d *hookDispatcher) dispatchAll() {
	for i, hook := range d.hooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		d.dispatchHook(i, hook)
	}
}

func (d *hookDispatcher) dispatchHook(idx int, hook config.HookConfig) {
	ctx := context.Background()
	cursor := d.cursorFor(idx)
	events, err := d.engine.Repo.EventsAfter(ctx, defaultHookBatch, cursor)
	if err != nil {
		log.Printf("hook: fetch events failed: %v", err)
		return
	}
	if len(events) == 0 {
		return
	}
	filter := newHookFilter(hook.Events, hook.Severities)
	for _, evt := range events {
		if !filter.match(evt) {
			d.setCursor(idx, evt.ID)
			continue
		}
		if err := d.postEvent(ctx, hook, evt); err != nil {
			log.Printf("hook: deliver to %s failed: %v", hook.URL, err)
			return
		}
		d.setCursor(idx, evt.ID)
	}
}

func (d *hookDispatcher) cursorFor(idx int) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur
	}
	cur, err := d.engine.Repo.LatestEventID(context.Background())
	if err != nil {
		log.Printf("hook: init cursor failed: %v", err)
		cur = 0
	}
	d.cursors[idx] = cur
	return cur
}

func (d *hookDispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

type hookEvent struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	OrderID    string          `json:"order_id,omitempty"`
	AssetID    string          `json:"asset_id,omitempty"`
	EngineerID string          `json:"engineer_id,omitempty"`
	Severity   string          `json:"severity"`
	Message    string          `json:"message,omitempty"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
}

func (d *hookDispatcher) postEvent(ctx context.Context, hook config.HookConfig, evt domain.Event) error {
	payload := json.RawMessage([]byte("{}"))
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage([]byte(evt.Payload))
	}
	body := hookEvent{
		ID:         evt.ID,
		Type:       evt.Type,
		OrderID:    evt.OrderID,
		AssetID:    evt.AssetID,
		EngineerID: evt.EngineerID,
		Severity:   evt.Severity,
		Message:    evt.Message,
		TS:         evt.TS,
		Payload:    payload,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	timeout := defaultHookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	client := d.client
	if timeout != d.client.Timeout {
		client = &http.Client{Timeout: timeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Plantline-Event", evt.Type)
	req.Header.Set("X-Plantline-Delivery", fmt.Sprintf("%d", evt.ID))
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Plantline-Secret", hook.Secret)
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

type hookFilter struct {
	allTypes      bool
	types         map[string]struct{}
	allSeverities bool
	severities    map[string]struct{}
}

func newHookFilter(events, severities []string) hookFilter {
	f := hookFilter{
		types:      toSet(events),
		severities: toSet(severities),
	}
	f.allTypes = len(f.types) == 0
	f.allSeverities = len(f.severities) == 0
	return f
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		key := strings.TrimSpace(v)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	return set
}

func (f hookFilter) match(evt domain.Event) bool {
	if !f.allTypes {
		if _, ok := f.types[evt.Type]; !ok {
			return false
		}
	}
	if !f.allSeverities {
		if _, ok := f.severities[evt.Severity]; !ok {
			return false
		}
	}
	return true
}
