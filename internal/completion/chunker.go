package completion

import (
	"strings"

	"github.com/groupmind/digestd/internal/core"
)

// charsPerToken is the rough estimation ratio used by the external
// service's tokenizer (1 token is about 4 characters of English text).
const charsPerToken = 4

// EstimateTokens estimates the token count of a text.
func EstimateTokens(text string) int {
	return len(text) / charsPerToken
}

// formatItem renders one item as a transcript line.
func formatItem(it core.Item) string {
	ts := it.SentAt
	if ts == "" {
		ts = "unknown time"
	}
	author := it.Author
	if author == "" {
		author = "Unknown"
	}
	return "[" + ts + "] " + author + ": " + it.Text
}

// transcript renders items as a newline-joined conversation transcript.
func transcript(items []core.Item) string {
	lines := make([]string, len(items))
	for i, it := range items {
		lines[i] = formatItem(it)
	}
	return strings.Join(lines, "\n")
}

// BuildChunks packs items in order into chunks whose estimated transcript
// size stays under budgetTokens. Packing is greedy and depends only on the
// input, so the same items always produce the same chunk boundaries. A
// single item above the budget still gets a chunk of its own.
func BuildChunks(items []core.Item, budgetTokens int) [][]core.Item {
	if len(items) == 0 {
		return nil
	}
	if budgetTokens <= 0 {
		return [][]core.Item{items}
	}

	var chunks [][]core.Item
	var current []core.Item
	currentTokens := 0

	for _, it := range items {
		// +1 for the joining newline.
		itemTokens := EstimateTokens(formatItem(it)) + 1
		if len(current) > 0 && currentTokens+itemTokens > budgetTokens {
			chunks = append(chunks, current)
			current = nil
			currentTokens = 0
		}
		current = append(current, it)
		currentTokens += itemTokens
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}
