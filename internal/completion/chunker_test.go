package completion

import (
	"reflect"
	"strings"
	"testing"

	"github.com/groupmind/digestd/internal/core"
)

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens(strings.Repeat("x", 400)); got != 100 {
		t.Errorf("EstimateTokens = %d, want 100", got)
	}
	if got := EstimateTokens(""); got != 0 {
		t.Errorf("EstimateTokens(empty) = %d, want 0", got)
	}
}

func TestBuildChunks_SingleChunkUnderBudget(t *testing.T) {
	items := []core.Item{
		{Author: "alice", Text: "short"},
		{Author: "bob", Text: "also short"},
	}

	chunks := BuildChunks(items, 1000)
	if len(chunks) != 1 {
		t.Fatalf("chunks = %d, want 1", len(chunks))
	}
	if len(chunks[0]) != 2 {
		t.Errorf("chunk size = %d, want 2", len(chunks[0]))
	}
}

func TestBuildChunks_SplitsAtBudget(t *testing.T) {
	// Each item is ~100 tokens; a 250-token budget fits two per chunk.
	items := make([]core.Item, 5)
	for i := range items {
		items[i] = core.Item{Author: "a", Text: strings.Repeat("x", 390)}
	}

	chunks := BuildChunks(items, 250)
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	if len(chunks[0]) != 2 || len(chunks[1]) != 2 || len(chunks[2]) != 1 {
		t.Errorf("chunk sizes = %d/%d/%d, want 2/2/1", len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}
}

func TestBuildChunks_Deterministic(t *testing.T) {
	items := make([]core.Item, 20)
	for i := range items {
		items[i] = core.Item{Author: "a", Text: strings.Repeat("word ", i*7+1)}
	}

	first := BuildChunks(items, 100)
	second := BuildChunks(items, 100)
	if !reflect.DeepEqual(first, second) {
		t.Error("same input must produce the same chunk boundaries")
	}
}

func TestBuildChunks_OversizeItemGetsOwnChunk(t *testing.T) {
	items := []core.Item{
		{Author: "a", Text: "tiny"},
		{Author: "b", Text: strings.Repeat("x", 4000)}, // ~1000 tokens alone
		{Author: "c", Text: "tiny"},
	}

	chunks := BuildChunks(items, 100)
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	if len(chunks[1]) != 1 || chunks[1][0].Author != "b" {
		t.Errorf("middle chunk = %+v, want the oversize item alone", chunks[1])
	}
}

func TestBuildChunks_Empty(t *testing.T) {
	if chunks := BuildChunks(nil, 100); chunks != nil {
		t.Errorf("chunks = %v, want nil", chunks)
	}
}

func TestFallback_NonEmptyAndDeterministic(t *testing.T) {
	items := []core.Item{
		{Author: "alice", Text: "the deployment broke again"},
		{Author: "alice", Text: "deployment logs attached"},
		{Author: "bob", Text: "rollback finished"},
		{Author: "carol", Text: "thanks"},
	}

	result := Fallback(items)
	if !result.Degraded {
		t.Error("fallback result must be marked degraded")
	}
	if result.Summary == "" {
		t.Error("summary must not be empty")
	}
	if !strings.Contains(result.Summary, "3 participants") {
		t.Errorf("Summary = %q", result.Summary)
	}
	// alice has the most messages and leads the active list.
	if !strings.Contains(result.Summary, "alice") {
		t.Errorf("Summary = %q, want alice listed", result.Summary)
	}
	if result.MessageCount != 4 {
		t.Errorf("MessageCount = %d, want 4", result.MessageCount)
	}
	// "deployment" appears twice and must rank first.
	if len(result.KeyTopics) == 0 || result.KeyTopics[0] != "deployment" {
		t.Errorf("KeyTopics = %v, want deployment first", result.KeyTopics)
	}

	again := Fallback(items)
	if !reflect.DeepEqual(result, again) {
		t.Error("fallback must be deterministic for the same input")
	}
}

func TestFallback_EmptyInput(t *testing.T) {
	result := Fallback(nil)
	if !result.Degraded || result.Summary == "" {
		t.Errorf("result = %+v", result)
	}
}
