package vision

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/framesift/framesift/internal/grid"
	"github.com/framesift/framesift/internal/logger"
	"github.com/framesift/framesift/internal/models"
)

// FrameResult is one frame's annotation plus its attributed token share.
type FrameResult struct {
	FrameNumber  int
	Timestamp    float64
	Result       json.RawMessage
	InputTokens  int
	OutputTokens int
}

// GridUsage is the authoritative per-grid accounting used for cost rows.
type GridUsage struct {
	GridIndex    int
	Model        string
	InputTokens  int
	OutputTokens int
	Cost         float64
}

// Usage accumulates token and cost totals across a whole run.
type Usage struct {
	InputTokens  int
	OutputTokens int
	Cost         float64
}

// ProgressFunc is invoked after each grid with how many grids have been
// attempted so far out of the total.
type ProgressFunc func(done, total int)

type Analyzer struct {
	client ChatClient
	log    *logger.Logger
}

func NewAnalyzer(client ChatClient, log *logger.Logger) *Analyzer {
	return &Analyzer{
		client: client,
		log:    log.With("component", "analyzer"),
	}
}

// Analyze sends each composite to the vision model and collects per-frame
// annotations. A failed grid (transport error, API error, malformed JSON)
// is logged and skipped; its frames are simply absent from the results.
// The request cost is already sunk and the remaining grids are
// independent, so one bad grid never aborts the run.
func (a *Analyzer) Analyze(ctx context.Context, grids []grid.Grid, scope, tier string, onProgress ProgressFunc) ([]FrameResult, []GridUsage, Usage, error) {
	model := ModelForTier(models.ValidTier(tier))

	var results []FrameResult
	var gridUsages []GridUsage
	var total Usage

	for i, g := range grids {
		if err := ctx.Err(); err != nil {
			return nil, nil, Usage{}, err
		}

		frameResults, usage, err := a.analyzeGrid(ctx, g, scope, model)
		if err != nil {
			a.log.Warn("grid analysis failed, skipping",
				"grid", g.Index,
				"frames", len(g.Frames),
				"error", err)
		} else {
			results = append(results, frameResults...)
			gridUsages = append(gridUsages, usage)
			total.InputTokens += usage.InputTokens
			total.OutputTokens += usage.OutputTokens
			total.Cost += usage.Cost
		}

		if onProgress != nil {
			onProgress(i+1, len(grids))
		}
	}

	return results, gridUsages, total, nil
}

func (a *Analyzer) analyzeGrid(ctx context.Context, g grid.Grid, scope, model string) ([]FrameResult, GridUsage, error) {
	imageURL := fmt.Sprintf("data:image/jpeg;base64,%s", base64.StdEncoding.EncodeToString(g.JPEG))

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: buildGridPrompt(g, scope),
					},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    imageURL,
							Detail: openai.ImageURLDetailHigh,
						},
					},
				},
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, GridUsage{}, fmt.Errorf("model call failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, GridUsage{}, fmt.Errorf("model returned no choices")
	}

	var byFrame map[string]json.RawMessage
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &byFrame); err != nil {
		return nil, GridUsage{}, fmt.Errorf("malformed analysis JSON: %w", err)
	}

	inputTokens := resp.Usage.PromptTokens
	outputTokens := resp.Usage.CompletionTokens

	// Token attribution: the grid's totals are split evenly across its
	// real member frames; padding frames get nothing.
	n := len(g.Frames)
	perFrameIn := inputTokens / n
	perFrameOut := outputTokens / n

	var results []FrameResult
	for _, frame := range g.Frames {
		raw, ok := byFrame[strconv.Itoa(frame.Index)]
		if !ok {
			a.log.Warn("model omitted frame from grid response",
				"grid", g.Index, "frame", frame.Index)
			continue
		}
		results = append(results, FrameResult{
			FrameNumber:  frame.Index,
			Timestamp:    frame.Timestamp,
			Result:       raw,
			InputTokens:  perFrameIn,
			OutputTokens: perFrameOut,
		})
	}

	usage := GridUsage{
		GridIndex:    g.Index,
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Cost:         Cost(model, inputTokens, outputTokens),
	}
	return results, usage, nil
}

// buildGridPrompt embeds the user's analysis scope and tells the model
// which frame is which. The composite stacks frames top to bottom; the
// response must be one JSON object keyed by frame number.
func buildGridPrompt(g grid.Grid, scope string) string {
	var b strings.Builder

	b.WriteString("You are analyzing consecutive frames sampled from a video. ")
	b.WriteString("The attached image stacks the frames vertically, top to bottom; ")
	b.WriteString("each frame has its timestamp stamped in its upper-right corner. ")
	b.WriteString("Any solid black frame at the bottom is padding — ignore it.\n\n")

	b.WriteString("Frames in this image:\n")
	for slot, frame := range g.Frames {
		fmt.Fprintf(&b, "- position %d: frame %d at %s\n",
			slot+1, frame.Index, models.FormatTimestamp(frame.Timestamp))
	}

	b.WriteString("\nAnalysis focus: ")
	if strings.TrimSpace(scope) != "" {
		b.WriteString(scope)
	} else {
		b.WriteString("describe everything notable in each frame")
	}

	b.WriteString("\n\nRespond with a single JSON object keyed by frame number. ")
	b.WriteString("Each value must be an object describing that frame, e.g. ")
	b.WriteString(`{"4": {"description": "...", "objects": [...], "text": [...]}, "5": {...}}. `)
	b.WriteString("Include every listed frame and no others.")

	return b.String()
}
