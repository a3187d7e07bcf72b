package contract

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// Decode parses raw text against a contract in two stages: direct structural
// validation first, then one fenced-block strip and retry. It returns the
// decoded document or the error from the last attempt.
func Decode(raw string, c *Contract) (map[string]any, error) {
	doc, err := decodeOnce(raw, c)
	if err == nil {
		return doc, nil
	}

	stripped, hadFence := StripFence(raw)
	if !hadFence {
		return nil, err
	}
	return decodeOnce(stripped, c)
}

func decodeOnce(text string, c *Contract) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &doc); err != nil {
		return nil, fmt.Errorf("not a JSON object: %w", err)
	}
	if err := c.Validate(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// StripFence removes one fenced code block (```, optionally with a language
// tag) wrapping the whole text. It reports whether a fence was stripped.
func StripFence(s string) (string, bool) {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return s, false
	}
	nl := strings.IndexByte(trimmed, '\n')
	if nl < 0 {
		return s, false
	}
	body := trimmed[nl+1:]
	end := strings.LastIndex(body, "```")
	if end < 0 {
		return s, false
	}
	return strings.TrimSpace(body[:end]), true
}

// ParseSpecialistOutput parses raw specialist text. It is total: text that
// still fails the contract after the fence retry yields the fallback result
// carrying the raw text as analysis and zero confidence. The second return
// reports whether the contract matched.
func ParseSpecialistOutput(raw string) (SpecialistOutput, bool) {
	doc, err := Decode(raw, Specialist())
	if err != nil {
		slog.Debug("Specialist output failed its contract, using fallback", "error", err)
		return SpecialistOutput{Analysis: raw, Confidence: 0}, false
	}

	out := SpecialistOutput{
		Analysis:   stringField(doc, "analysis"),
		Solution:   stringField(doc, "solution"),
		Confidence: DefaultConfidence,
		Handoff:    stringSliceField(doc, "handoff"),
	}
	if v, ok := doc["confidence"]; ok {
		out.Confidence = ClampConfidence(numberField(v))
	}
	if len(out.Handoff) > MaxHandoffs {
		slog.Warn("Handoff list truncated", "requested", len(out.Handoff), "max", MaxHandoffs)
		out.Handoff = out.Handoff[:MaxHandoffs]
	}
	return out, true
}

// ParseLeadOutput parses the lead's final text. Unlike specialist parsing it
// has no total fallback: an unparsable lead output fails the session.
func ParseLeadOutput(raw string) (LeadOutput, error) {
	doc, err := Decode(raw, Lead())
	if err != nil {
		return LeadOutput{}, fmt.Errorf("lead output does not satisfy its contract: %w", err)
	}
	return LeadOutput{
		FinalResponse: stringField(doc, "finalResponse"),
		Reasoning:     stringField(doc, "reasoning"),
	}, nil
}

// ClampConfidence forces a confidence value into [0, 1].
func ClampConfidence(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func stringField(doc map[string]any, key string) string {
	s, _ := doc[key].(string)
	return s
}

func stringSliceField(doc map[string]any, key string) []string {
	raw, ok := doc[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func numberField(v any) float64 {
	f, _ := v.(float64)
	return f
}
