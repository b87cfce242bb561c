package vision

import (
	"context"
	"errors"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/framesift/framesift/internal/extractor"
	"github.com/framesift/framesift/internal/grid"
	"github.com/framesift/framesift/internal/logger"
	"github.com/framesift/framesift/internal/models"
)

// mockChatClient replays a scripted response per call, in order.
type mockChatClient struct {
	responses []mockResponse
	requests  []openai.ChatCompletionRequest
}

type mockResponse struct {
	content string
	usage   openai.Usage
	err     error
}

func (m *mockChatClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	call := len(m.requests)
	m.requests = append(m.requests, req)

	if call >= len(m.responses) {
		return openai.ChatCompletionResponse{}, errors.New("unexpected call")
	}
	r := m.responses[call]
	if r.err != nil {
		return openai.ChatCompletionResponse{}, r.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: r.content}},
		},
		Usage: r.usage,
	}, nil
}

func testGrid(index int, frameIndexes ...int) grid.Grid {
	frames := make([]extractor.Frame, 0, len(frameIndexes))
	for _, fi := range frameIndexes {
		frames = append(frames, extractor.Frame{
			Index:     fi,
			Timestamp: float64(fi) * 10,
		})
	}
	return grid.Grid{
		Index:  index,
		Frames: frames,
		JPEG:   []byte("not-a-real-jpeg"),
		Width:  320,
	}
}

func TestAnalyzeHappyPath(t *testing.T) {
	client := &mockChatClient{
		responses: []mockResponse{
			{
				content: `{"0": {"description": "a"}, "1": {"description": "b"}, "2": {"description": "c"}}`,
				usage:   openai.Usage{PromptTokens: 900, CompletionTokens: 90},
			},
		},
	}
	a := NewAnalyzer(client, logger.NewNop())

	results, usages, total, err := a.Analyze(context.Background(),
		[]grid.Grid{testGrid(0, 0, 1, 2)}, "find animals", models.TierBalanced, nil)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	if len(results) != 3 {
		t.Fatalf("Expected 3 frame results, got %d", len(results))
	}
	for i, r := range results {
		if r.FrameNumber != i {
			t.Errorf("Result %d has frame number %d", i, r.FrameNumber)
		}
		if r.Timestamp != float64(i)*10 {
			t.Errorf("Result %d has timestamp %v", i, r.Timestamp)
		}
		// 900/3 and 90/3, split evenly.
		if r.InputTokens != 300 || r.OutputTokens != 30 {
			t.Errorf("Result %d tokens: in=%d out=%d, want in=300 out=30", i, r.InputTokens, r.OutputTokens)
		}
	}

	if len(usages) != 1 {
		t.Fatalf("Expected 1 grid usage, got %d", len(usages))
	}
	if usages[0].Model != ModelBalanced {
		t.Errorf("Model: got %s, want %s", usages[0].Model, ModelBalanced)
	}
	if usages[0].InputTokens != 900 || usages[0].OutputTokens != 90 {
		t.Errorf("Grid usage tokens: in=%d out=%d", usages[0].InputTokens, usages[0].OutputTokens)
	}

	if total.InputTokens != 900 || total.OutputTokens != 90 {
		t.Errorf("Total tokens: in=%d out=%d", total.InputTokens, total.OutputTokens)
	}
	if total.Cost != Cost(ModelBalanced, 900, 90) {
		t.Errorf("Total cost: got %v, want %v", total.Cost, Cost(ModelBalanced, 900, 90))
	}
}

func TestAnalyzeSkipsFailedGrid(t *testing.T) {
	client := &mockChatClient{
		responses: []mockResponse{
			{
				content: `{"0": {"description": "a"}, "1": {"description": "b"}, "2": {"description": "c"}}`,
				usage:   openai.Usage{PromptTokens: 300, CompletionTokens: 30},
			},
			{err: errors.New("rate limited")},
			{
				content: `{"6": {"description": "g"}}`,
				usage:   openai.Usage{PromptTokens: 100, CompletionTokens: 10},
			},
		},
	}
	a := NewAnalyzer(client, logger.NewNop())

	grids := []grid.Grid{
		testGrid(0, 0, 1, 2),
		testGrid(1, 3, 4, 5),
		testGrid(2, 6),
	}

	results, usages, total, err := a.Analyze(context.Background(), grids, "", models.TierFast, nil)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	// Grid 1's frames are absent; grids 0 and 2 survive.
	if len(results) != 4 {
		t.Fatalf("Expected 4 frame results, got %d", len(results))
	}
	for _, r := range results {
		if r.FrameNumber >= 3 && r.FrameNumber <= 5 {
			t.Errorf("Frame %d belongs to the failed grid", r.FrameNumber)
		}
	}

	// Failed grids contribute no usage row and no tokens.
	if len(usages) != 2 {
		t.Fatalf("Expected 2 grid usages, got %d", len(usages))
	}
	if total.InputTokens != 400 || total.OutputTokens != 40 {
		t.Errorf("Total tokens: in=%d out=%d, want in=400 out=40", total.InputTokens, total.OutputTokens)
	}
}

func TestAnalyzeSkipsMalformedJSON(t *testing.T) {
	client := &mockChatClient{
		responses: []mockResponse{
			{content: `not json at all`, usage: openai.Usage{PromptTokens: 50, CompletionTokens: 5}},
		},
	}
	a := NewAnalyzer(client, logger.NewNop())

	results, usages, total, err := a.Analyze(context.Background(),
		[]grid.Grid{testGrid(0, 0, 1, 2)}, "", models.TierBalanced, nil)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if len(results) != 0 || len(usages) != 0 {
		t.Errorf("Malformed response should yield nothing, got %d results %d usages", len(results), len(usages))
	}
	if total.InputTokens != 0 {
		t.Errorf("Malformed response should not count tokens")
	}
}

func TestAnalyzeSkipsOmittedFrames(t *testing.T) {
	client := &mockChatClient{
		responses: []mockResponse{
			{
				content: `{"0": {"description": "a"}, "2": {"description": "c"}}`,
				usage:   openai.Usage{PromptTokens: 300, CompletionTokens: 30},
			},
		},
	}
	a := NewAnalyzer(client, logger.NewNop())

	results, _, _, err := a.Analyze(context.Background(),
		[]grid.Grid{testGrid(0, 0, 1, 2)}, "", models.TierBalanced, nil)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("Expected 2 results when the model omits a frame, got %d", len(results))
	}
	for _, r := range results {
		if r.FrameNumber == 1 {
			t.Errorf("Omitted frame 1 should not appear in results")
		}
	}
}

func TestAnalyzeProgressReporting(t *testing.T) {
	client := &mockChatClient{
		responses: []mockResponse{
			{content: `{"0": {}}`},
			{err: errors.New("boom")},
			{content: `{"6": {}}`},
		},
	}
	a := NewAnalyzer(client, logger.NewNop())

	var calls [][2]int
	_, _, _, err := a.Analyze(context.Background(),
		[]grid.Grid{testGrid(0, 0), testGrid(1, 3), testGrid(2, 6)}, "", models.TierBalanced,
		func(done, total int) {
			calls = append(calls, [2]int{done, total})
		})
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	// Progress advances after every grid, failed ones included.
	want := [][2]int{{1, 3}, {2, 3}, {3, 3}}
	if len(calls) != len(want) {
		t.Fatalf("Progress calls: got %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("Progress call %d: got %v, want %v", i, calls[i], want[i])
		}
	}
}

func TestAnalyzeRequestShape(t *testing.T) {
	client := &mockChatClient{
		responses: []mockResponse{
			{content: `{"4": {"description": "x"}}`},
		},
	}
	a := NewAnalyzer(client, logger.NewNop())

	_, _, _, err := a.Analyze(context.Background(),
		[]grid.Grid{testGrid(1, 4)}, "license plates", models.TierPrecise, nil)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	if len(client.requests) != 1 {
		t.Fatalf("Expected 1 request, got %d", len(client.requests))
	}
	req := client.requests[0]

	if req.Model != ModelPrecise {
		t.Errorf("Model: got %s, want %s", req.Model, ModelPrecise)
	}
	if req.ResponseFormat == nil || req.ResponseFormat.Type != openai.ChatCompletionResponseFormatTypeJSONObject {
		t.Errorf("Expected JSON object response format")
	}
	if len(req.Messages) != 1 || len(req.Messages[0].MultiContent) != 2 {
		t.Fatalf("Expected one message with text and image parts")
	}

	text := req.Messages[0].MultiContent[0]
	if !strings.Contains(text.Text, "license plates") {
		t.Errorf("Prompt should embed the analysis scope")
	}
	if !strings.Contains(text.Text, "frame 4 at 0:40") {
		t.Errorf("Prompt should list frame numbers with timestamps, got:\n%s", text.Text)
	}

	img := req.Messages[0].MultiContent[1]
	if img.ImageURL == nil || !strings.HasPrefix(img.ImageURL.URL, "data:image/jpeg;base64,") {
		t.Errorf("Image part should be a base64 JPEG data URL")
	}
	if img.ImageURL != nil && img.ImageURL.Detail != openai.ImageURLDetailHigh {
		t.Errorf("Image detail: got %s, want high", img.ImageURL.Detail)
	}
}

func TestAnalyzeContextCancellation(t *testing.T) {
	client := &mockChatClient{}
	a := NewAnalyzer(client, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, _, err := a.Analyze(ctx, []grid.Grid{testGrid(0, 0)}, "", models.TierBalanced, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if len(client.requests) != 0 {
		t.Errorf("No requests should be made after cancellation")
	}
}

func TestModelForTier(t *testing.T) {
	tests := []struct {
		tier string
		want string
	}{
		{models.TierFast, ModelFast},
		{models.TierBalanced, ModelBalanced},
		{models.TierPrecise, ModelPrecise},
		{"unknown", ModelBalanced},
	}

	for _, tt := range tests {
		if got := ModelForTier(tt.tier); got != tt.want {
			t.Errorf("ModelForTier(%q) = %q, want %q", tt.tier, got, tt.want)
		}
	}
}

func TestCost(t *testing.T) {
	got := Cost(ModelBalanced, 1000, 1000)
	want := 0.0025 + 0.01
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Cost = %v, want %v", got, want)
	}

	// Unknown models price as balanced.
	if Cost("mystery-model", 1000, 1000) != got {
		t.Errorf("Unknown model should fall back to balanced pricing")
	}
}

func TestCostZeroTokens(t *testing.T) {
	if got := Cost(ModelFast, 0, 0); got != 0 {
		t.Errorf("Cost with zero tokens = %v, want 0", got)
	}
}
