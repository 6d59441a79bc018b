package tool

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Builtins returns the tools shipped with the CLI: enough to exercise a
// plan end to end without writing a plugin.
func Builtins() []Func {
	return []Func{
		builtinEcho(),
		builtinFetch(&http.Client{Timeout: 30 * time.Second}),
		builtinSummarize(),
	}
}

// builtinEcho returns its input unchanged.
func builtinEcho() Func {
	return New("echo", "Echo", "returns its input unchanged", []string{"echo"},
		func(_ context.Context, input map[string]any) (map[string]any, error) {
			return input, nil
		})
}

// builtinFetch retrieves a URL given as input key "url" and returns the body
// under "content" plus the HTTP status code.
func builtinFetch(client *http.Client) Func {
	return New("fetch", "Fetch", "retrieves the body of a URL", []string{"http"},
		func(ctx context.Context, input map[string]any) (map[string]any, error) {
			url, _ := input["url"].(string)
			if url == "" {
				return nil, fmt.Errorf("fetch: input %q is required", "url")
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return nil, fmt.Errorf("fetch %s: %w", url, err)
			}
			resp, err := client.Do(req)
			if err != nil {
				return nil, fmt.Errorf("fetch %s: %w", url, err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			if err != nil {
				return nil, fmt.Errorf("fetch %s: read body: %w", url, err)
			}
			if resp.StatusCode >= 400 {
				return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
			}
			return map[string]any{
				"content": string(body),
				"status":  resp.StatusCode,
			}, nil
		})
}

// builtinSummarize produces a crude extractive summary: the first sentences
// of input key "content", capped by "max_sentences" (default 3).
func builtinSummarize() Func {
	return New("summarize", "Summarize", "extracts the leading sentences of a text", []string{"text"},
		func(_ context.Context, input map[string]any) (map[string]any, error) {
			content, _ := input["content"].(string)
			if content == "" {
				return nil, fmt.Errorf("summarize: input %q is required", "content")
			}

			max := 3
			if n, ok := input["max_sentences"].(int); ok && n > 0 {
				max = n
			} else if f, ok := input["max_sentences"].(float64); ok && f > 0 {
				max = int(f)
			}

			return map[string]any{"summary": leadingSentences(content, max)}, nil
		})
}

func leadingSentences(text string, max int) string {
	var out strings.Builder
	count := 0
	for _, r := range text {
		out.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			count++
			if count >= max {
				break
			}
		}
	}
	return strings.TrimSpace(out.String())
}
