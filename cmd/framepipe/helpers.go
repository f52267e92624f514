package main

import (
	"bytes"
	"encoding/json"
	"strings"
)

func truncate(value string, limit int) string {
	runes := []rune(value)
	if limit <= 3 || len(runes) <= limit {
		return value
	}
	return "..." + string(runes[len(runes)-(limit-3):])
}

func indentJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "  ", "  "); err != nil {
		return "  " + strings.TrimSpace(string(raw))
	}
	return "  " + buf.String()
}
