package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/sync/errgroup"

	"github.com/framesift/framesift/internal/database"
	"github.com/framesift/framesift/internal/logger"
	"github.com/framesift/framesift/internal/models"
	"github.com/framesift/framesift/internal/vision"
)

// ChunkSize is how many analysis records ride in one model request.
const ChunkSize = 40

// chunkTimeout bounds worst-case search latency; a timed-out chunk
// degrades to zero matches.
const chunkTimeout = 60 * time.Second

// Result is the search response plus the token accounting the caller
// needs for billing.
type Result struct {
	Ranges       []TimeRange `json:"ranges"`
	TotalMatches int         `json:"totalMatches"`
	Query        string      `json:"query"`
	Message      string      `json:"message,omitempty"`

	ModelUsed    string `json:"-"`
	InputTokens  int    `json:"-"`
	OutputTokens int    `json:"-"`
}

type Engine struct {
	client       vision.ChatClient
	analysisRepo *database.AnalysisRepository
	log          *logger.Logger
}

func NewEngine(client vision.ChatClient, analysisRepo *database.AnalysisRepository, log *logger.Logger) *Engine {
	return &Engine{
		client:       client,
		analysisRepo: analysisRepo,
		log:          log.With("component", "search"),
	}
}

// Search runs a free-text query over a video's persisted analysis
// records. Records are split into fixed-size chunks, one model call per
// chunk dispatched concurrently; a failed chunk contributes zero matches
// and no tokens without poisoning its siblings.
func (e *Engine) Search(ctx context.Context, video *models.Video, query string) (*Result, error) {
	records, err := e.analysisRepo.GetByVideoID(ctx, video.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load analysis records: %w", err)
	}

	result := &Result{
		Query:     query,
		ModelUsed: vision.ModelForTier(video.AccuracyTier),
	}

	if len(records) == 0 {
		result.Message = "no analysis available for this video yet"
		return result, nil
	}

	chunks := chunkRecords(records, ChunkSize)

	var mu sync.Mutex
	var matches []Match

	g := new(errgroup.Group)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, chunkTimeout)
			defer cancel()

			chunkMatches, usage, err := e.searchChunk(cctx, chunk, query, result.ModelUsed)
			if err != nil {
				e.log.Warn("search chunk failed",
					"video_id", video.ID,
					"chunk", i,
					"error", err)
				return nil
			}

			mu.Lock()
			matches = append(matches, chunkMatches...)
			result.InputTokens += usage.PromptTokens
			result.OutputTokens += usage.CompletionTokens
			mu.Unlock()
			return nil
		})
	}
	// Goroutines absorb their own failures, so Wait only joins.
	_ = g.Wait()

	result.TotalMatches = len(matches)
	result.Ranges = MergeRanges(matches, video.FrameInterval)

	e.log.Info("search finished",
		"video_id", video.ID,
		"chunks", len(chunks),
		"matches", len(matches),
		"ranges", len(result.Ranges))

	return result, nil
}

func chunkRecords(records []*models.AnalysisRecord, size int) [][]*models.AnalysisRecord {
	var chunks [][]*models.AnalysisRecord
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		chunks = append(chunks, records[start:end])
	}
	return chunks
}

func (e *Engine) searchChunk(ctx context.Context, chunk []*models.AnalysisRecord, query, model string) ([]Match, openai.Usage, error) {
	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildChunkPrompt(chunk, query),
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, openai.Usage{}, fmt.Errorf("model call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, openai.Usage{}, fmt.Errorf("model returned no choices")
	}

	var parsed struct {
		Matches []Match `json:"matches"`
	}
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &parsed); err != nil {
		return nil, openai.Usage{}, fmt.Errorf("malformed matches JSON: %w", err)
	}

	// Timestamp integrity: frame indices are a lookup key into data that
	// is already correct, while model timestamp arithmetic is not. Every
	// match's timestamp is replaced with the stored one; matches naming
	// unknown frames are dropped.
	byFrame := make(map[int]*models.AnalysisRecord, len(chunk))
	for _, rec := range chunk {
		byFrame[rec.FrameNumber] = rec
	}

	matches := make([]Match, 0, len(parsed.Matches))
	for _, m := range parsed.Matches {
		rec, ok := byFrame[m.Frame]
		if !ok {
			e.log.Warn("dropping match for unknown frame", "frame", m.Frame)
			continue
		}
		m.Timestamp = rec.Timestamp
		matches = append(matches, m)
	}

	return matches, resp.Usage, nil
}

func buildChunkPrompt(chunk []*models.AnalysisRecord, query string) string {
	type entry struct {
		Frame     int             `json:"frame"`
		Timestamp float64         `json:"timestamp"`
		Analysis  json.RawMessage `json:"analysis"`
	}

	entries := make([]entry, 0, len(chunk))
	for _, rec := range chunk {
		entries = append(entries, entry{
			Frame:     rec.FrameNumber,
			Timestamp: rec.Timestamp,
			Analysis:  rec.AnalysisResult,
		})
	}
	payload, _ := json.Marshal(entries)

	var b strings.Builder
	b.WriteString("Below are per-frame analyses of a video, as a JSON array. ")
	b.WriteString("Find the frames matching the user's query.\n\nFrames:\n")
	b.Write(payload)
	b.WriteString("\n\nQuery: ")
	b.WriteString(query)
	b.WriteString("\n\nRespond with a single JSON object of the form ")
	b.WriteString(`{"matches": [{"timestamp": <seconds>, "frame": <frame number>, "context": "<why this frame matches>"}]}. `)
	b.WriteString("Only include frames that genuinely match; an empty matches array is a valid answer.")

	return b.String()
}
