package agent

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	errEmptyReply     = errors.New("model returned an empty reply")
	errMalformedReply = errors.New("model reply is not a JSON object")
)

// parseTurnResult decodes the model's JSON envelope. Models often wrap JSON in
// markdown fences or add prose around it, so only the outermost object is read.
func parseTurnResult(raw string) (TurnResult, error) {
	obj, ok := outerObject(raw)
	if !ok {
		return TurnResult{}, errMalformedReply
	}

	var res TurnResult
	if err := json.Unmarshal([]byte(obj), &res); err != nil {
		return TurnResult{}, fmt.Errorf("%w: %w", errMalformedReply, err)
	}
	res.Reply = strings.TrimSpace(res.Reply)
	if res.Reply == "" {
		return TurnResult{}, errEmptyReply
	}
	if trimmed := bytes.TrimSpace(res.Extracted); len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		res.Extracted = nil
	}
	return res, nil
}

// parseOpening accepts either the JSON envelope or plain text.
func parseOpening(raw string) string {
	if res, err := parseTurnResult(raw); err == nil {
		return res.Reply
	}
	text := strings.TrimSpace(stripFences(raw))
	if strings.HasPrefix(text, "{") {
		return ""
	}
	return text
}

func outerObject(raw string) (string, bool) {
	s := stripFences(raw)
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSuffix(strings.TrimSpace(s), "```")
}
