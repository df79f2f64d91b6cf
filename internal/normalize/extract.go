package normalize

import (
	"bytes"
	"math"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/JakeFAU/mastodon-medallion-etl/internal/crawler"
)

// opaqueJSON compacts a nested structure to text; null and empty
// objects/arrays become nil.
func opaqueJSON(raw []byte) *string {
	trimmed := bytes.TrimSpace(raw)
	switch string(trimmed) {
	case "", "null", "{}", "[]", `""`, "false":
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return nil
	}
	s := buf.String()
	return &s
}

// parseCount accepts a JSON integer (or integral float) or a numeric string.
func parseCount(raw []byte) *int64 {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil
	}
	text := string(trimmed)
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil
		}
		text = strings.TrimSpace(s)
	}
	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		return &n
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return nil
	}
	n := int64(f)
	return &n
}

func parseBool(raw []byte) *bool {
	var b bool
	if err := json.Unmarshal(bytes.TrimSpace(raw), &b); err != nil {
		return nil
	}
	return &b
}

// parseString accepts a JSON string or number (ids arrive both ways).
func parseString(raw []byte) *string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil
		}
		return nullable(s)
	}
	if n := parseCount(trimmed); n != nil {
		s := strconv.FormatInt(*n, 10)
		return &s
	}
	return nil
}

func parseTime(raw *string) *time.Time {
	if raw == nil {
		return nil
	}
	t, ok := crawler.ParseTimestamp(*raw)
	if !ok {
		return nil
	}
	return &t
}

func decodeObject(raw []byte) map[string]json.RawMessage {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}
	return obj
}

func decodeList(raw []byte) []json.RawMessage {
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil
	}
	return list
}

// joinField comma-joins one string field of every object in a JSON list.
func joinField(raw []byte, field string) *string {
	list := decodeList(raw)
	if len(list) == 0 {
		return nil
	}
	values := make([]string, 0, len(list))
	for _, item := range list {
		obj := decodeObject(item)
		if obj == nil {
			continue
		}
		if v := parseString(obj[field]); v != nil {
			values = append(values, *v)
		}
	}
	if len(values) == 0 {
		return nil
	}
	joined := strings.Join(values, ",")
	return &joined
}

func countList(raw []byte) *int64 {
	list := decodeList(raw)
	if len(list) == 0 {
		return nil
	}
	n := int64(len(list))
	return &n
}

func present(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && string(trimmed) != "null"
}

// accountFields is the flattened view of the nested account object.
type accountFields struct {
	ID             *string
	Username       *string
	DisplayName    *string
	FollowersCount *int64
	FollowingCount *int64
	StatusesCount  *int64
	Bot            *bool
	CreatedAt      *time.Time
}

func extractAccount(raw []byte) accountFields {
	obj := decodeObject(raw)
	if obj == nil {
		return accountFields{}
	}
	return accountFields{
		ID:             parseString(obj["id"]),
		Username:       parseString(obj["username"]),
		DisplayName:    parseString(obj["display_name"]),
		FollowersCount: parseCount(obj["followers_count"]),
		FollowingCount: parseCount(obj["following_count"]),
		StatusesCount:  parseCount(obj["statuses_count"]),
		Bot:            parseBool(obj["bot"]),
		CreatedAt:      parseTime(parseString(obj["created_at"])),
	}
}
