package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/framesift/framesift/internal/config"
	"github.com/framesift/framesift/internal/database"
	"github.com/framesift/framesift/internal/logger"
	"github.com/framesift/framesift/internal/models"
)

// mockChatClient answers through a caller-supplied function. Chunks are
// dispatched concurrently, so responses key off request content rather
// than call order.
type mockChatClient struct {
	respond func(req openai.ChatCompletionRequest) (string, openai.Usage, error)

	mu       sync.Mutex
	requests []openai.ChatCompletionRequest
}

func (m *mockChatClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	content, usage, err := m.respond(req)
	if err != nil {
		return openai.ChatCompletionResponse{}, err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
		Usage: usage,
	}, nil
}

func (m *mockChatClient) requestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func newTestRepo(t *testing.T) *database.AnalysisRepository {
	t.Helper()

	db, err := database.NewDB(config.Database{
		Type:       "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return database.NewAnalysisRepository(db)
}

// seedRecords inserts count analysis records at 10-second spacing.
func seedRecords(t *testing.T, repo *database.AnalysisRepository, videoID string, count int) {
	t.Helper()

	records := make([]*models.AnalysisRecord, 0, count)
	for i := 0; i < count; i++ {
		result := json.RawMessage(fmt.Sprintf(`{"description": "frame %d"}`, i))
		records = append(records, models.NewAnalysisRecord(videoID, float64(i)*10, i, result, 10, 5, "gpt-4o"))
	}
	if err := repo.InsertBatch(context.Background(), records); err != nil {
		t.Fatalf("Failed to seed records: %v", err)
	}
}

func testVideo(id string) *models.Video {
	return &models.Video{
		ID:            id,
		UserID:        "user-1",
		FrameInterval: 10,
		AccuracyTier:  models.TierBalanced,
	}
}

func TestSearchNoRecords(t *testing.T) {
	client := &mockChatClient{
		respond: func(openai.ChatCompletionRequest) (string, openai.Usage, error) {
			return "", openai.Usage{}, errors.New("should not be called")
		},
	}
	engine := NewEngine(client, newTestRepo(t), logger.NewNop())

	result, err := engine.Search(context.Background(), testVideo("video-1"), "a dog")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if result.Message == "" {
		t.Error("Expected an explanatory message for an unanalyzed video")
	}
	if result.TotalMatches != 0 || len(result.Ranges) != 0 {
		t.Errorf("Expected empty result, got %+v", result)
	}
	if client.requestCount() != 0 {
		t.Errorf("No model calls expected, got %d", client.requestCount())
	}
}

func TestSearchTimestampAuthority(t *testing.T) {
	repo := newTestRepo(t)
	seedRecords(t, repo, "video-1", 5)

	client := &mockChatClient{
		respond: func(openai.ChatCompletionRequest) (string, openai.Usage, error) {
			// The model echoes a wrong timestamp for frame 2 and invents
			// frame 99 outright.
			return `{"matches": [
				{"timestamp": 999, "frame": 2, "context": "a dog runs by"},
				{"timestamp": 123, "frame": 99, "context": "hallucinated"}
			]}`, openai.Usage{PromptTokens: 200, CompletionTokens: 40}, nil
		},
	}
	engine := NewEngine(client, repo, logger.NewNop())

	result, err := engine.Search(context.Background(), testVideo("video-1"), "a dog")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if result.TotalMatches != 1 {
		t.Fatalf("Expected 1 match after dropping the unknown frame, got %d", result.TotalMatches)
	}
	if len(result.Ranges) != 1 {
		t.Fatalf("Expected 1 range, got %d", len(result.Ranges))
	}

	// Frame 2 was stored at t=20; the echoed 999 must not survive.
	r := result.Ranges[0]
	if r.Start != 20 || r.End != 30 {
		t.Errorf("Range: got [%v, %v], want [20, 30]", r.Start, r.End)
	}
	if len(r.Frames) != 1 || r.Frames[0] != 2 {
		t.Errorf("Frames: got %v, want [2]", r.Frames)
	}
	if len(r.Contexts) != 1 || r.Contexts[0] != "a dog runs by" {
		t.Errorf("Contexts: got %v", r.Contexts)
	}

	if result.InputTokens != 200 || result.OutputTokens != 40 {
		t.Errorf("Tokens: in=%d out=%d, want in=200 out=40", result.InputTokens, result.OutputTokens)
	}
	if result.ModelUsed != "gpt-4o" {
		t.Errorf("ModelUsed: got %s", result.ModelUsed)
	}
}

func TestSearchChunkFailureIsolation(t *testing.T) {
	repo := newTestRepo(t)
	seedRecords(t, repo, "video-1", ChunkSize+10)

	client := &mockChatClient{
		respond: func(req openai.ChatCompletionRequest) (string, openai.Usage, error) {
			// The second chunk starts at frame 40; fail it.
			if strings.Contains(req.Messages[0].Content, `"frame":40,`) {
				return "", openai.Usage{}, errors.New("rate limited")
			}
			return `{"matches": [{"timestamp": 0, "frame": 3, "context": "hit"}]}`,
				openai.Usage{PromptTokens: 500, CompletionTokens: 50}, nil
		},
	}
	engine := NewEngine(client, repo, logger.NewNop())

	result, err := engine.Search(context.Background(), testVideo("video-1"), "anything")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if client.requestCount() != 2 {
		t.Fatalf("Expected 2 chunk requests, got %d", client.requestCount())
	}

	// The failed chunk contributes nothing; the survivor's match and
	// tokens are intact.
	if result.TotalMatches != 1 {
		t.Errorf("TotalMatches: got %d, want 1", result.TotalMatches)
	}
	if result.InputTokens != 500 || result.OutputTokens != 50 {
		t.Errorf("Tokens: in=%d out=%d, want in=500 out=50", result.InputTokens, result.OutputTokens)
	}
	if len(result.Ranges) != 1 || result.Ranges[0].Start != 30 {
		t.Errorf("Ranges: got %+v", result.Ranges)
	}
}

func TestSearchMergesAcrossChunks(t *testing.T) {
	repo := newTestRepo(t)
	seedRecords(t, repo, "video-1", ChunkSize+5)

	client := &mockChatClient{
		respond: func(req openai.ChatCompletionRequest) (string, openai.Usage, error) {
			if strings.Contains(req.Messages[0].Content, `"frame":40,`) {
				// Frame 41 sits at t=410, adjacent to frame 40's t=400.
				return `{"matches": [{"timestamp": 0, "frame": 41, "context": "b"}]}`, openai.Usage{}, nil
			}
			return `{"matches": [{"timestamp": 0, "frame": 39, "context": "a"}]}`, openai.Usage{}, nil
		},
	}
	engine := NewEngine(client, repo, logger.NewNop())

	result, err := engine.Search(context.Background(), testVideo("video-1"), "anything")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	// Matches from different chunks merge into one range when adjacent.
	if len(result.Ranges) != 1 {
		t.Fatalf("Expected 1 merged range, got %+v", result.Ranges)
	}
	r := result.Ranges[0]
	if r.Start != 390 || r.End != 420 {
		t.Errorf("Range: got [%v, %v], want [390, 420]", r.Start, r.End)
	}
}

func TestSearchNoMatches(t *testing.T) {
	repo := newTestRepo(t)
	seedRecords(t, repo, "video-1", 3)

	client := &mockChatClient{
		respond: func(openai.ChatCompletionRequest) (string, openai.Usage, error) {
			return `{"matches": []}`, openai.Usage{PromptTokens: 80, CompletionTokens: 8}, nil
		},
	}
	engine := NewEngine(client, repo, logger.NewNop())

	result, err := engine.Search(context.Background(), testVideo("video-1"), "a unicorn")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if result.TotalMatches != 0 {
		t.Errorf("TotalMatches: got %d, want 0", result.TotalMatches)
	}
	if len(result.Ranges) != 0 {
		t.Errorf("Ranges: got %+v, want none", result.Ranges)
	}
	// Tokens are still billed for a successful empty answer.
	if result.InputTokens != 80 || result.OutputTokens != 8 {
		t.Errorf("Tokens: in=%d out=%d", result.InputTokens, result.OutputTokens)
	}
}

func TestSearchRequestShape(t *testing.T) {
	repo := newTestRepo(t)
	seedRecords(t, repo, "video-1", 2)

	client := &mockChatClient{
		respond: func(openai.ChatCompletionRequest) (string, openai.Usage, error) {
			return `{"matches": []}`, openai.Usage{}, nil
		},
	}
	engine := NewEngine(client, repo, logger.NewNop())

	video := testVideo("video-1")
	video.AccuracyTier = models.TierFast

	if _, err := engine.Search(context.Background(), video, "red car"); err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if client.requestCount() != 1 {
		t.Fatalf("Expected 1 request, got %d", client.requestCount())
	}
	req := client.requests[0]

	if req.Model != openai.GPT4oMini {
		t.Errorf("Model: got %s, want %s", req.Model, openai.GPT4oMini)
	}
	if req.ResponseFormat == nil || req.ResponseFormat.Type != openai.ChatCompletionResponseFormatTypeJSONObject {
		t.Errorf("Expected JSON object response format")
	}

	prompt := req.Messages[0].Content
	if !strings.Contains(prompt, "red car") {
		t.Errorf("Prompt should embed the query")
	}
	if !strings.Contains(prompt, `"frame":0,`) || !strings.Contains(prompt, `"frame":1,`) {
		t.Errorf("Prompt should embed the chunk's records, got:\n%s", prompt)
	}
}

func TestChunkRecords(t *testing.T) {
	records := make([]*models.AnalysisRecord, 95)
	for i := range records {
		records[i] = &models.AnalysisRecord{FrameNumber: i}
	}

	chunks := chunkRecords(records, 40)
	if len(chunks) != 3 {
		t.Fatalf("Expected 3 chunks, got %d", len(chunks))
	}
	if len(chunks[0]) != 40 || len(chunks[1]) != 40 || len(chunks[2]) != 15 {
		t.Errorf("Chunk sizes: %d, %d, %d", len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}
	if chunks[2][0].FrameNumber != 80 {
		t.Errorf("Last chunk starts at frame %d, want 80", chunks[2][0].FrameNumber)
	}

	if got := chunkRecords(nil, 40); len(got) != 0 {
		t.Errorf("Empty input should produce no chunks")
	}
}
