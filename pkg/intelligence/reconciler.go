package intelligence

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/recallhq/recall-go/pkg/llm"
	"github.com/recallhq/recall-go/pkg/logging"
)

// Reconcile events, as the model emits them.
const (
	EventAdd    = "ADD"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"
	EventNone   = "NONE"
)

// Neighbor is an existing memory offered to the model as reconcile context.
type Neighbor struct {
	ID      int64
	Content string
}

// Decision is one reconciled action with real memory ids resolved.
type Decision struct {
	// Event is ADD, UPDATE, DELETE, or NONE.
	Event string

	// MemoryID is the target memory for UPDATE and DELETE. Zero otherwise.
	MemoryID int64

	// Text is the content to store for ADD, the merged content for UPDATE,
	// and the skipped fact for NONE.
	Text string

	// OldText is the pre-update content the model reported, when given.
	OldText string

	// Reason explains NONE decisions made by this code rather than the
	// model, e.g. an invalid id in the reply.
	Reason string
}

// Reconciler decides what a batch of new facts does to existing memories.
type Reconciler struct {
	llm    llm.Provider
	prompt string
	logger *zap.Logger
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithReconcilePrompt replaces the default prompt. The custom prompt is
// used verbatim; neighbors and facts are not interpolated into it.
func WithReconcilePrompt(prompt string) ReconcilerOption {
	return func(r *Reconciler) { r.prompt = prompt }
}

// WithReconcilerLogger sets the logger.
func WithReconcilerLogger(logger *zap.Logger) ReconcilerOption {
	return func(r *Reconciler) { r.logger = logger }
}

// NewReconciler builds a reconciler over an LLM provider.
func NewReconciler(provider llm.Provider, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{llm: provider}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.OrNop(r.logger)
	return r
}

// Decide reconciles facts against neighbors. The model sees neighbors
// under positional ids so it cannot hallucinate real ones; replies naming
// an unknown position are downgraded to NONE instead of failing the batch.
// An unparseable reply gets one strict-JSON retry, then errors with no
// decisions at all.
func (r *Reconciler) Decide(ctx context.Context, facts []string, neighbors []Neighbor) ([]Decision, error) {
	if len(facts) == 0 {
		return nil, nil
	}

	views := make([]neighborView, len(neighbors))
	realIDs := make(map[string]int64, len(neighbors))
	for i, n := range neighbors {
		tempID := strconv.Itoa(i)
		views[i] = neighborView{ID: tempID, Text: n.Content}
		realIDs[tempID] = n.ID
	}

	prompt := r.prompt
	if prompt == "" {
		prompt = reconcilePrompt(facts, views)
	}
	messages := []llm.Message{{Role: "user", Content: prompt}}

	response, err := r.llm.GenerateWithMessages(ctx, messages, llm.WithJSONResponse())
	if err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}

	raw, parseErr := parseReconcileReply(response)
	if parseErr != nil {
		r.logger.Warn("reconcile reply was not valid JSON, retrying once", zap.Error(parseErr))
		messages = append(messages,
			llm.Message{Role: "assistant", Content: response},
			llm.Message{Role: "user", Content: strictJSONReminder},
		)
		response, err = r.llm.GenerateWithMessages(ctx, messages, llm.WithJSONResponse())
		if err != nil {
			return nil, fmt.Errorf("reconcile: %w", err)
		}
		raw, parseErr = parseReconcileReply(response)
		if parseErr != nil {
			return nil, fmt.Errorf("reconcile: %w", parseErr)
		}
	}

	return r.resolve(raw, realIDs), nil
}

// rawAction mirrors the model's output schema. "memory" is accepted as an
// alias for "text".
type rawAction struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Memory    string `json:"memory"`
	Event     string `json:"event"`
	OldMemory string `json:"old_memory"`
}

func parseReconcileReply(response string) ([]rawAction, error) {
	var result struct {
		Memory []rawAction `json:"memory"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(response)), &result); err != nil {
		return nil, fmt.Errorf("invalid reconcile JSON: %w", err)
	}
	return result.Memory, nil
}

func (r *Reconciler) resolve(raw []rawAction, realIDs map[string]int64) []Decision {
	decisions := make([]Decision, 0, len(raw))
	for _, a := range raw {
		text := a.Text
		if text == "" {
			text = a.Memory
		}
		event := strings.ToUpper(strings.TrimSpace(a.Event))

		switch event {
		case EventAdd:
			if text == "" {
				continue
			}
			decisions = append(decisions, Decision{Event: EventAdd, Text: text, OldText: a.OldMemory})
		case EventUpdate, EventDelete:
			id, ok := realIDs[a.ID]
			if !ok {
				r.logger.Warn("reconcile decision names unknown memory id, skipping",
					zap.String("event", event), zap.String("id", a.ID))
				decisions = append(decisions, Decision{
					Event:  EventNone,
					Text:   text,
					Reason: "unknown memory id in model reply",
				})
				continue
			}
			if event == EventUpdate && text == "" {
				decisions = append(decisions, Decision{
					Event:  EventNone,
					Reason: "update without replacement text",
				})
				continue
			}
			decisions = append(decisions, Decision{
				Event:    event,
				MemoryID: id,
				Text:     text,
				OldText:  a.OldMemory,
			})
		case EventNone:
			decisions = append(decisions, Decision{Event: EventNone, Text: text})
		default:
			r.logger.Warn("reconcile decision has unknown event, skipping", zap.String("event", a.Event))
		}
	}
	return decisions
}
