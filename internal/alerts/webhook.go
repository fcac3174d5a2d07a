package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
)

// style is how a severity is shown in chat notifications.
type style struct {
	label string
	color string
}

var (
	severityStyles = map[string]style{
		"critical": {"[CRITICAL]", "FF4F6A"},
		"warning":  {"[WARNING]", "FFAB40"},
		"info":     {"[INFO]", "00D4FF"},
	}
	resolvedStyle = style{"[RESOLVED]", "2EB67D"}
)

func styleOf(a *Alert) style {
	if a.State == StateResolved {
		return resolvedStyle
	}
	if s, ok := severityStyles[a.Severity]; ok {
		return s
	}
	return severityStyles["info"]
}

// payloadFunc builds the JSON body a webhook type expects.
type payloadFunc func(a *Alert) any

var payloads = map[string]payloadFunc{
	"slack": slackPayload,
	"teams": teamsPayload,
	"http":  httpPayload,
}

// deliver posts a to every configured webhook. Failures are logged only.
func (e *Engine) deliver(a *Alert) {
	e.mu.Lock()
	webhooks := e.webhooks
	e.mu.Unlock()

	ctx := context.Background()
	for _, wh := range webhooks {
		url := wh.URL()
		if url == "" {
			continue
		}
		build, ok := payloads[wh.Type]
		if !ok {
			slog.Warn("alerts: unknown webhook type, skipping", "type", wh.Type)
			continue
		}
		if err := e.post(ctx, url, build(a)); err != nil {
			slog.Error("alerts: webhook delivery failed",
				"type", wh.Type, "rule", a.RuleName, "cell", a.CellID, "err", err)
			continue
		}
		slog.Debug("alerts: webhook delivered",
			"type", wh.Type, "rule", a.RuleName, "cell", a.CellID, "state", a.State)
	}
}

// facts are the name/value pairs shown under every chat notification.
func facts(a *Alert) [][2]string {
	return [][2]string{
		{"Cell", a.CellID},
		{"Week ending", a.Week},
		{"Value", strconv.FormatFloat(a.Value, 'f', -1, 64)},
	}
}

func slackPayload(a *Alert) any {
	s := styleOf(a)
	fields := make([]map[string]any, 0, 3)
	for _, f := range facts(a) {
		fields = append(fields, map[string]any{"title": f[0], "value": f[1], "short": true})
	}
	return map[string]any{
		"text": fmt.Sprintf("*%s* %s", s.label, a.Message),
		"attachments": []map[string]any{{
			"color":  "#" + s.color,
			"fields": fields,
		}},
	}
}

func teamsPayload(a *Alert) any {
	s := styleOf(a)
	list := make([]map[string]string, 0, 3)
	for _, f := range facts(a) {
		list = append(list, map[string]string{"name": f[0], "value": f[1]})
	}
	return map[string]any{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": s.color,
		"summary":    a.RuleName,
		"title":      fmt.Sprintf("Test cell %s: %s %s", a.CellID, a.RuleName, a.State),
		"text":       a.Message,
		"sections":   []map[string]any{{"facts": list}},
	}
}

// httpPayload is the generic body: the alert itself plus an event name such
// as "alert.firing".
func httpPayload(a *Alert) any {
	return map[string]any{
		"event": "alert." + a.State,
		"alert": a,
	}
}

func (e *Engine) post(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}
