package council

import (
	"errors"

	"github.com/johnayoung/llm-council/internal/consensus"
)

// EventType names a progress event.
type EventType string

const (
	EventStage1Start         EventType = "stage1_start"
	EventStage1ModelComplete EventType = "stage1_model_complete"
	EventStage1Complete      EventType = "stage1_complete"
	EventStage2Start         EventType = "stage2_start"
	EventStage2Complete      EventType = "stage2_complete"
	EventStage3Start         EventType = "stage3_start"
	EventStage3Complete      EventType = "stage3_complete"
	EventTitleComplete       EventType = "title_complete"
	EventComplete            EventType = "complete"
	EventError               EventType = "error"
)

// Event is one entry of the append-only progress stream.
type Event struct {
	Type     EventType `json:"type"`
	Data     any       `json:"data,omitempty"`
	Metadata any       `json:"metadata,omitempty"`
	// Message is set on error events.
	Message string `json:"message,omitempty"`
}

// Terminal reports whether e ends a stream.
func (e Event) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

// Stage2Metadata accompanies stage2_complete. The label mapping is only
// revealed here, after every ranking has been collected.
type Stage2Metadata struct {
	LabelToModel      map[string]string           `json:"label_to_model"`
	AggregateRankings consensus.AggregateRanking  `json:"aggregate_rankings"`
	Rejected          []consensus.RejectedRanking `json:"rejected,omitempty"`
}

// TitleData accompanies title_complete.
type TitleData struct {
	Title string `json:"title"`
}

// ErrorData carries the failure kind of an error event.
type ErrorData struct {
	Kind string `json:"kind"`
}

// Error kinds reported on error events.
const (
	KindSynthesis   = "synthesis"
	KindNoResponses = "no_responses"
	KindCanceled    = "canceled"
	KindInternal    = "internal"
)

// ErrorEvent converts a fatal error into a terminal event.
func ErrorEvent(err error) Event {
	return Event{
		Type:    EventError,
		Data:    ErrorData{Kind: errorKind(err)},
		Message: err.Error(),
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, consensus.ErrSynthesis):
		return KindSynthesis
	case errors.Is(err, ErrNoResponses):
		return KindNoResponses
	case errors.Is(err, ErrCanceled):
		return KindCanceled
	default:
		return KindInternal
	}
}

// Emitter receives events synchronously, in order.
type Emitter func(Event)
