package alarms

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/portenta/image-processing-ioc/internal/config"
)

// deliver sends a to every configured target. Errors are logged.
func (e *Engine) deliver(webhooks []config.WebhookConfig, a *Alarm) {
	for _, wh := range webhooks {
		url := wh.URL()
		if url == "" {
			continue
		}

		var err error
		switch wh.Type {
		case "slack":
			err = e.sendSlack(url, a)
		case "teams":
			err = e.sendTeams(url, a)
		case "http":
			err = e.sendHTTP(url, a)
		default:
			slog.Warn("alarms: unknown webhook type, skipping", "type", wh.Type)
			continue
		}

		if err != nil {
			slog.Error("alarms: webhook delivery failed",
				"type", wh.Type,
				"rule", a.RuleName,
				"err", err,
			)
		} else {
			slog.Debug("alarms: webhook delivered",
				"type", wh.Type,
				"rule", a.RuleName,
				"state", a.State,
			)
		}
	}
}

func (e *Engine) sendSlack(url string, a *Alarm) error {
	body, _ := json.Marshal(map[string]string{
		"text": fmt.Sprintf("*%s* %s", severityLabel(a.Severity), message(a)),
	})
	return e.post(url, body)
}

func (e *Engine) sendTeams(url string, a *Alarm) error {
	payload := map[string]interface{}{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": severityColor(a.Severity),
		"summary":    a.RuleName,
		"title":      fmt.Sprintf("Image IOC alarm: %s", a.RuleName),
		"text":       message(a),
	}
	body, _ := json.Marshal(payload)
	return e.post(url, body)
}

func (e *Engine) sendHTTP(url string, a *Alarm) error {
	body, _ := json.Marshal(map[string]interface{}{"alarm": a})
	return e.post(url, body)
}

func (e *Engine) post(url string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func message(a *Alarm) string {
	if a.State == "resolved" {
		return fmt.Sprintf("%s resolved on %s", a.RuleName, a.PV)
	}
	return a.Message
}

func severityLabel(s string) string {
	switch s {
	case "major":
		return "[MAJOR]"
	case "minor":
		return "[MINOR]"
	default:
		return "[INFO]"
	}
}

func severityColor(s string) string {
	switch s {
	case "major":
		return "FF4F6A"
	case "minor":
		return "FFAB40"
	default:
		return "00D4FF"
	}
}
