package webhook

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Discord embed accent colors keyed by lifecycle action.
const (
	colorCreated   = 0x2ECC71 // green
	colorUpdated   = 0x3498DB // blue
	colorDeleted   = 0xE74C3C // red
	colorPublished = 0x9B59B6 // purple
	colorDefault   = 0x95A5A6 // gray
)

const (
	maxEmbedFields     = 10
	maxFieldValueChars = 100
	maxContentChars    = 2000
)

// IsChatProviderURL reports whether target is a Discord incoming-webhook
// endpoint, which expects the embed payload format instead of the generic
// signed JSON body.
func IsChatProviderURL(target string) bool {
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host != "discord.com" && host != "discordapp.com" && !strings.HasSuffix(host, ".discord.com") {
		return false
	}
	return strings.Contains(u.Path, "/api/webhooks")
}

// ChatProviderPayload renders an event as a Discord embed: a humanized title,
// an accent color keyed on the lifecycle action, and up to ten flattened
// scalar fields from the event data.
func ChatProviderPayload(eventType string, data map[string]any) ([]byte, error) {
	embed := map[string]any{
		"title":     humanizeEventName(eventType),
		"color":     eventColor(eventType),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if fields := embedFields(data); len(fields) > 0 {
		embed["fields"] = fields
	}
	return json.Marshal(map[string]any{"embeds": []any{embed}})
}

// FallbackTextPayload is the plain-text form used when the embed transform
// fails for any reason.
func FallbackTextPayload(eventType string, data map[string]any) []byte {
	content := fmt.Sprintf("%s: %v", humanizeEventName(eventType), data)
	body, _ := json.Marshal(map[string]any{"content": truncate(content, maxContentChars)})
	return body
}

// humanizeEventName turns "task.created" into "Task Created".
func humanizeEventName(eventType string) string {
	parts := strings.FieldsFunc(eventType, func(r rune) bool {
		return r == '.' || r == '_'
	})
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}

func eventColor(eventType string) int {
	switch {
	case strings.Contains(eventType, "created"):
		return colorCreated
	case strings.Contains(eventType, "updated"):
		return colorUpdated
	case strings.Contains(eventType, "deleted"):
		return colorDeleted
	case strings.Contains(eventType, "published"):
		return colorPublished
	default:
		return colorDefault
	}
}

// embedFields flattens data into at most ten name/value pairs. Nested objects
// are flattened one level deep ("user.name"); deeper nesting and arrays are
// skipped. Keys in stable order so payloads are deterministic.
func embedFields(data map[string]any) []map[string]any {
	flat := map[string]any{}
	for k, v := range data {
		switch child := v.(type) {
		case map[string]any:
			for ck, cv := range child {
				if isScalar(cv) {
					flat[k+"."+ck] = cv
				}
			}
		default:
			if isScalar(v) {
				flat[k] = v
			}
		}
	}

	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var fields []map[string]any
	for _, k := range keys {
		if len(fields) >= maxEmbedFields {
			break
		}
		fields = append(fields, map[string]any{
			"name":   k,
			"value":  truncate(renderFieldValue(k, flat[k]), maxFieldValueChars),
			"inline": true,
		})
	}
	return fields
}

// renderFieldValue formats timestamp-like fields as a localized date and
// everything else with plain formatting.
func renderFieldValue(key string, v any) string {
	if isTimestampKey(key) {
		if s, ok := v.(string); ok {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				return t.Local().Format("Jan 2, 2006 3:04 PM")
			}
		}
		if t, ok := v.(time.Time); ok {
			return t.Local().Format("Jan 2, 2006 3:04 PM")
		}
	}
	return fmt.Sprintf("%v", v)
}

func isTimestampKey(key string) bool {
	if strings.HasSuffix(key, "_at") || strings.HasSuffix(key, "At") {
		return true
	}
	return strings.HasSuffix(strings.ToLower(key), "timestamp")
}

func isScalar(v any) bool {
	switch v.(type) {
	case string, bool, int, int64, float64, json.Number, time.Time, nil:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
