package chain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const defaultStyle = "friendly"

// AnalysisResult is what the analyze stage hands to the generate stage.
type AnalysisResult struct {
	KeyPoints         []string       `json:"key_points"`
	RequiredContext   []string       `json:"required_context"`
	ResponseStyle     string         `json:"response_style"`
	NeedsMemoryUpdate bool           `json:"needs_memory_update"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

var (
	errNoKeyPoints = errors.New("analysis has no key points")
	errEmptyReply  = errors.New("generation returned no text")
)

// fallbackAnalysis passes the message through untouched.
func fallbackAnalysis(message string) AnalysisResult {
	return AnalysisResult{
		KeyPoints:       []string{message},
		RequiredContext: []string{},
		ResponseStyle:   defaultStyle,
	}
}

// parseAnalysis pulls the JSON object out of a model reply and validates it.
func parseAnalysis(text string) (AnalysisResult, error) {
	raw := extractJSON(text)
	if raw == "" {
		return AnalysisResult{}, errors.New("no JSON object in analysis reply")
	}

	var res AnalysisResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return AnalysisResult{}, fmt.Errorf("failed to parse analysis: %w", err)
	}

	points := res.KeyPoints[:0]
	for _, p := range res.KeyPoints {
		if p = strings.TrimSpace(p); p != "" {
			points = append(points, p)
		}
	}
	res.KeyPoints = points
	if len(res.KeyPoints) == 0 {
		return AnalysisResult{}, errNoKeyPoints
	}
	if res.RequiredContext == nil {
		res.RequiredContext = []string{}
	}
	if strings.TrimSpace(res.ResponseStyle) == "" {
		res.ResponseStyle = defaultStyle
	}
	return res, nil
}

// extractJSON strips the formatting models like to wrap JSON in: a ```json
// fence, a bare ``` fence, or prose around the outermost braces.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)

	if i := strings.Index(text, "```json"); i >= 0 {
		body := text[i+len("```json"):]
		if j := strings.Index(body, "```"); j >= 0 {
			body = body[:j]
		}
		return strings.TrimSpace(body)
	}

	if i := strings.Index(text, "```"); i >= 0 {
		body := text[i+3:]
		// Skip a language tag on the fence line.
		if nl := strings.IndexByte(body, '\n'); nl >= 0 && !strings.Contains(body[:nl], "{") {
			body = body[nl+1:]
		}
		if j := strings.Index(body, "```"); j >= 0 {
			body = body[:j]
		}
		return strings.TrimSpace(body)
	}

	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}
