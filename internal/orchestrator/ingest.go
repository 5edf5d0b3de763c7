package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"attune/internal/types"
)

const factPromptTemplate = `Extract notable, durable facts the user stated about themselves or their situation from this message. Return JSON: {"facts": ["..."]}. Return {"facts": []} when nothing is worth keeping.

Message: %q`

const summaryPromptTemplate = `Summarize this conversation so far in 2-3 sentences, then list up to 4 recurring themes. Return JSON: {"summary": "...", "themes": ["..."]}.

Conversation:
%s`

// enqueueIngestion submits the post-turn write work: record both turns,
// index the user turn for retrieval, extract facts, and periodically refresh
// the rolling summary. All of it is off the turn's critical path.
func (o *Orchestrator) enqueueIngestion(req TurnRequest, reply string, turnCount int) {
	if o.writer == nil {
		return
	}

	userTurn := types.ConversationTurn{
		ID:        uuid.NewString(),
		SessionID: req.SessionID,
		Speaker:   types.SpeakerUser,
		Text:      req.Message,
		Timestamp: o.now(),
		Stage:     req.Stage,
		Intensity: req.Intensity,
	}
	assistantTurn := types.ConversationTurn{
		ID:        uuid.NewString(),
		SessionID: req.SessionID,
		Speaker:   types.SpeakerAssistant,
		Text:      reply,
		Timestamp: o.now(),
		Stage:     req.Stage,
	}

	o.queue.enqueue(task{name: "record-turns", run: func(ctx context.Context) error {
		if err := o.writer.AppendTurn(ctx, userTurn); err != nil {
			return fmt.Errorf("append user turn: %w", err)
		}
		if err := o.writer.AppendTurn(ctx, assistantTurn); err != nil {
			return fmt.Errorf("append assistant turn: %w", err)
		}
		return o.writer.AppendReading(ctx, req.SessionID, types.EmotionalReading{
			Timestamp: userTurn.Timestamp,
			Intensity: req.Intensity,
		})
	}})

	o.queue.enqueue(task{name: "index-turn", run: func(ctx context.Context) error {
		// The same turn is indexed into both corpora: the same-session row
		// serves recall within this conversation, the cross-session row
		// serves future conversations.
		for _, corpus := range []types.SearchCorpus{types.CorpusSameSession, types.CorpusCrossSession} {
			if err := o.writer.UpsertVector(ctx, corpus, userTurn.ID, req.UserID, req.SessionID, req.Message, userTurn.Timestamp); err != nil {
				return fmt.Errorf("index turn into %s: %w", corpus, err)
			}
		}
		return nil
	}})

	if o.fast != nil {
		o.queue.enqueue(task{name: "extract-facts", run: func(ctx context.Context) error {
			return o.extractFacts(ctx, req.SessionID, req.Message)
		}})

		if o.cfg.SummarizeEvery > 0 && turnCount%o.cfg.SummarizeEvery == 0 {
			history := append(append([]types.Message(nil), req.History...),
				types.Message{Role: "user", Content: req.Message},
				types.Message{Role: "assistant", Content: reply})
			o.queue.enqueue(task{name: "summarize-session", run: func(ctx context.Context) error {
				return o.summarize(ctx, req.UserID, req.SessionID, history)
			}})
		}
	}
}

func (o *Orchestrator) extractFacts(ctx context.Context, sessionID, message string) error {
	raw, err := o.fast.ClassifyJSON(ctx, fmt.Sprintf(factPromptTemplate, message))
	if err != nil {
		return fmt.Errorf("fact extraction call: %w", err)
	}
	var parsed struct {
		Facts []string `json:"facts"`
	}
	if err := json.Unmarshal([]byte(stripToJSON(raw)), &parsed); err != nil {
		return fmt.Errorf("parse facts: %w", err)
	}
	for _, fact := range parsed.Facts {
		fact = strings.TrimSpace(fact)
		if fact == "" {
			continue
		}
		if err := o.writer.StoreSessionFact(ctx, types.SessionFact{
			SessionID: sessionID,
			Content:   fact,
			CreatedAt: o.now(),
		}); err != nil {
			return fmt.Errorf("store fact: %w", err)
		}
	}
	return nil
}

func (o *Orchestrator) summarize(ctx context.Context, userID, sessionID string, history []types.Message) error {
	var sb strings.Builder
	for _, m := range history {
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
	}
	raw, err := o.fast.ClassifyJSON(ctx, fmt.Sprintf(summaryPromptTemplate, sb.String()))
	if err != nil {
		return fmt.Errorf("summarization call: %w", err)
	}
	var parsed struct {
		Summary string   `json:"summary"`
		Themes  []string `json:"themes"`
	}
	if err := json.Unmarshal([]byte(stripToJSON(raw)), &parsed); err != nil {
		return fmt.Errorf("parse summary: %w", err)
	}
	if strings.TrimSpace(parsed.Summary) == "" {
		return nil
	}
	return o.writer.UpsertSummary(ctx, userID, types.SessionSummary{
		SessionID: sessionID,
		Summary:   parsed.Summary,
		Themes:    parsed.Themes,
		UpdatedAt: o.now(),
	})
}

// stripToJSON trims markdown fences and any prose around the outermost JSON
// object.
func stripToJSON(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return raw
	}
	return raw[start : end+1]
}
