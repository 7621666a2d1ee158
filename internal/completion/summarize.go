package completion

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/groupmind/digestd/internal/core"
	"github.com/groupmind/digestd/internal/metrics"
)

// structuredResponse is the JSON shape the prompt asks the model for.
type structuredResponse struct {
	Summary   string   `json:"summary"`
	KeyTopics []string `json:"key_topics"`
}

// Summarize produces the digest for a job. Oversized input is chunked
// deterministically; multi-chunk runs summarize each chunk and combine the
// partials with one more call. Service failures that survive the inner
// retries degrade to the local extractive fallback, so the result is never
// nil and Summarize returns an error only when the context is done.
func (c *Client) Summarize(ctx context.Context, job *core.Job) (*core.DigestResult, error) {
	start := time.Now()
	defer func() {
		metrics.CompletionDuration.Observe(time.Since(start).Seconds())
	}()

	chunks := BuildChunks(job.Items, c.chunkBudget())
	if len(chunks) == 0 {
		return Fallback(nil), nil
	}
	idemBase := fmt.Sprintf("%s:%d", job.ID, job.Attempt)

	if len(chunks) == 1 {
		result, err := c.summarizeChunk(ctx, chunks[0], job.LanguageHint, idemBase)
		if err != nil {
			return c.degrade(ctx, job, err)
		}
		result.Chunks = 1
		metrics.CompletionCalls.WithLabelValues("success").Inc()
		metrics.CompletionTokens.Add(float64(result.TokensUsed))
		return result, nil
	}

	partials := make([]string, 0, len(chunks))
	tokensUsed := 0
	for i, chunk := range chunks {
		res, err := c.call(ctx, c.chunkMessages(chunk, job.LanguageHint),
			fmt.Sprintf("%s:c%d", idemBase, i), 0.3)
		if err != nil {
			return c.degrade(ctx, job, err)
		}
		partials = append(partials, extractSummaryText(res.content))
		tokensUsed += res.tokensUsed
	}

	combined, err := c.combine(ctx, partials, job.LanguageHint, idemBase)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Partial summaries exist; joining them beats throwing them away.
		c.logger.Warn("combining call failed, joining partial summaries",
			"job_id", job.ID, "error", err)
		combined = &core.DigestResult{Summary: strings.Join(partials, "\n\n")}
	}

	combined.Chunks = len(chunks)
	combined.TokensUsed += tokensUsed
	c.finish(combined, job)
	metrics.CompletionCalls.WithLabelValues("success").Inc()
	metrics.CompletionTokens.Add(float64(combined.TokensUsed))
	return combined, nil
}

// degrade resolves a failed run: context cancellation propagates, anything
// else becomes the fallback result.
func (c *Client) degrade(ctx context.Context, job *core.Job, cause error) (*core.DigestResult, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	c.logger.Warn("completion service failed, using extractive fallback",
		"job_id", job.ID, "error", cause)
	metrics.CompletionCalls.WithLabelValues("failure").Inc()
	metrics.CompletionFallbacks.Inc()
	result := Fallback(job.Items)
	result.Language = job.LanguageHint
	return result, nil
}

// summarizeChunk runs one completion call over a chunk and parses the
// structured response.
func (c *Client) summarizeChunk(ctx context.Context, items []core.Item, languageHint, idempotencyKey string) (*core.DigestResult, error) {
	res, err := c.call(ctx, c.chunkMessages(items, languageHint), idempotencyKey, 0.3)
	if err != nil {
		return nil, err
	}

	result := parseStructured(res.content)
	result.TokensUsed = res.tokensUsed
	c.finish(result, &core.Job{Items: items, LanguageHint: languageHint})
	return result, nil
}

// combine merges partial chunk summaries into one result.
func (c *Client) combine(ctx context.Context, partials []string, languageHint, idemBase string) (*core.DigestResult, error) {
	var b strings.Builder
	b.WriteString("These are partial summaries of consecutive parts of one group conversation:\n\n")
	for i, p := range partials {
		fmt.Fprintf(&b, "Part %d:\n%s\n\n", i+1, p)
	}
	b.WriteString("Combine them into a single coherent summary of the whole conversation.\n")
	b.WriteString(responseFormatInstruction(languageHint))

	res, err := c.call(ctx, []chatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: b.String()},
	}, idemBase+":combine", 0.3)
	if err != nil {
		return nil, err
	}

	result := parseStructured(res.content)
	result.TokensUsed = res.tokensUsed
	return result, nil
}

// chunkMessages builds the chat messages for one chunk.
func (c *Client) chunkMessages(items []core.Item, languageHint string) []chatMessage {
	var b strings.Builder
	b.WriteString("Please summarize this group conversation:\n\n")
	b.WriteString(transcript(items))
	b.WriteString("\n\n")
	b.WriteString("Provide a brief summary (2-3 sentences) of the main discussion topics.\n")
	b.WriteString(responseFormatInstruction(languageHint))

	return []chatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: b.String()},
	}
}

func responseFormatInstruction(languageHint string) string {
	s := "Format your response as JSON with keys: summary, key_topics."
	if languageHint != "" && languageHint != "auto" {
		s += " Write the summary in language: " + languageHint + "."
	}
	return s
}

// parseStructured extracts the JSON object from the model's reply, falling
// back to the raw text as the summary when no parseable object is present.
func parseStructured(content string) *core.DigestResult {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		var sr structuredResponse
		if err := json.Unmarshal([]byte(content[start:end+1]), &sr); err == nil && sr.Summary != "" {
			return &core.DigestResult{
				Summary:   sr.Summary,
				KeyTopics: sr.KeyTopics,
			}
		}
	}
	return &core.DigestResult{Summary: content}
}

// finish fills the metadata shared by every successful result.
func (c *Client) finish(result *core.DigestResult, j *core.Job) {
	authors := map[string]struct{}{}
	for _, it := range j.Items {
		if it.Author != "" {
			authors[it.Author] = struct{}{}
		}
	}
	result.Participants = len(authors)
	result.MessageCount = len(j.Items)
	result.Language = j.LanguageHint
	result.Model = c.model
}

// extractSummaryText reduces a chunk reply to plain summary text for the
// combining call.
func extractSummaryText(content string) string {
	return parseStructured(content).Summary
}
