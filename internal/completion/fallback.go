package completion

import (
	"fmt"
	"sort"
	"strings"

	"github.com/groupmind/digestd/internal/core"
)

// stopWords are excluded from the fallback's topic extraction.
var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {},
	"in": {}, "on": {}, "at": {}, "to": {}, "for": {}, "of": {},
	"with": {}, "by": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"be": {}, "have": {}, "has": {}, "had": {}, "do": {}, "does": {},
	"did": {}, "will": {}, "would": {}, "could": {}, "should": {},
	"may": {}, "might": {}, "must": {}, "can": {}, "this": {},
	"that": {}, "what": {}, "when": {}, "just": {}, "like": {},
}

const maxFallbackTopics = 5

// Fallback computes a local extractive digest without the external
// service: participant counts, the most active speakers and the most
// frequent content words. It always returns a non-empty degraded result.
func Fallback(items []core.Item) *core.DigestResult {
	if len(items) == 0 {
		return &core.DigestResult{
			Summary:  "No messages to summarize.",
			Degraded: true,
		}
	}

	counts := map[string]int{}
	for _, it := range items {
		if it.Author != "" {
			counts[it.Author]++
		}
	}

	speakers := make([]string, 0, len(counts))
	for name := range counts {
		speakers = append(speakers, name)
	}
	sort.Slice(speakers, func(i, j int) bool {
		if counts[speakers[i]] != counts[speakers[j]] {
			return counts[speakers[i]] > counts[speakers[j]]
		}
		return speakers[i] < speakers[j]
	})
	topSpeakers := speakers
	if len(topSpeakers) > 3 {
		topSpeakers = topSpeakers[:3]
	}

	summary := fmt.Sprintf("Group conversation with %d participants.", len(counts))
	if len(topSpeakers) > 0 {
		summary += " Most active: " + strings.Join(topSpeakers, ", ") + "."
	}
	summary += fmt.Sprintf(" Total messages: %d.", len(items))

	return &core.DigestResult{
		Summary:      summary,
		KeyTopics:    topicWords(items),
		Participants: len(counts),
		MessageCount: len(items),
		Degraded:     true,
	}
}

// topicWords extracts the most frequent non-trivial words, deterministically
// ordered by frequency then alphabetically.
func topicWords(items []core.Item) []string {
	freq := map[string]int{}
	for _, it := range items {
		for _, word := range strings.Fields(strings.ToLower(it.Text)) {
			word = strings.Trim(word, ".,!?:;\"'()")
			if len(word) <= 3 {
				continue
			}
			if _, skip := stopWords[word]; skip {
				continue
			}
			freq[word]++
		}
	}
	if len(freq) == 0 {
		return nil
	}

	words := make([]string, 0, len(freq))
	for w := range freq {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if freq[words[i]] != freq[words[j]] {
			return freq[words[i]] > freq[words[j]]
		}
		return words[i] < words[j]
	})

	if len(words) > maxFallbackTopics {
		words = words[:maxFallbackTopics]
	}
	return words
}
