package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON pulls a JSON document out of an LLM response. It tries,
// in order: the whole text, the contents of a ```json fenced block,
// and the outermost brace-delimited slice. Returns an error when none
// of them parse.
func ExtractJSON(text string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(text)
	if json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed), nil
	}

	if fenced := extractFencedBlock(trimmed); fenced != "" {
		if json.Valid([]byte(fenced)) {
			return json.RawMessage(fenced), nil
		}
	}

	if sliced := extractBraceSlice(trimmed); sliced != "" {
		if json.Valid([]byte(sliced)) {
			return json.RawMessage(sliced), nil
		}
	}

	return nil, fmt.Errorf("no valid JSON found in response (%d bytes)", len(text))
}

// extractFencedBlock returns the contents of the first ``` fenced code
// block, with an optional language tag on the opening fence.
func extractFencedBlock(text string) string {
	start := strings.Index(text, "```")
	if start < 0 {
		return ""
	}
	rest := text[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		// Drop the language tag line ("json", "JSON", or empty).
		rest = rest[nl+1:]
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(rest[:end])
}

// extractBraceSlice returns the slice from the first opening brace or
// bracket to the last matching closer.
func extractBraceSlice(text string) string {
	for _, pair := range [][2]byte{{'{', '}'}, {'[', ']'}} {
		start := strings.IndexByte(text, pair[0])
		end := strings.LastIndexByte(text, pair[1])
		if start >= 0 && end > start {
			return strings.TrimSpace(text[start : end+1])
		}
	}
	return ""
}

// queryJSON sends the prompts and unmarshals the response into out,
// retrying with a corrective prompt when the model returns something
// that does not parse. Transport errors are not retried here; the
// resilient backend owns those.
func queryJSON(ctx context.Context, b Backend, system, user string, out interface{}) error {
	const maxParseRetries = 3

	prompt := user
	var lastErr error
	for attempt := 0; attempt < maxParseRetries; attempt++ {
		resp, err := b.Query(ctx, system, prompt)
		if err != nil {
			return err
		}

		raw, err := ExtractJSON(resp)
		if err == nil {
			if err := json.Unmarshal(raw, out); err == nil {
				return nil
			} else {
				lastErr = fmt.Errorf("response JSON does not match expected shape: %w", err)
			}
		} else {
			lastErr = err
		}

		prompt = user + "\n\nYour previous response was not valid JSON (" + lastErr.Error() +
			"). Respond with ONLY the JSON document, no prose and no markdown fences."
	}

	return fmt.Errorf("failed to get valid JSON after %d attempts: %w", maxParseRetries, lastErr)
}
