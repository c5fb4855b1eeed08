package models

// StreamEvent is one unit of a chat response as consumed from a backend. A
// response is a sequence of delta events, optionally followed by out-of-band
// signals surfaced at finalization.
type StreamEvent struct {
	Type EventType

	// Delta would be filled if Type is EventTypeDelta. It is an incremental
	// text fragment to append to the in-flight assistant message.
	Delta string

	// Questions would be filled if Type is EventTypeRelatedQuestions.
	Questions []string

	// CacheType would be filled if Type is EventTypeCacheHit, naming the
	// cache the backend served the answer from.
	CacheType string
}

// EventType represents the type of a stream event.
type EventType string

const (
	// EventTypeDelta carries an incremental content fragment.
	EventTypeDelta EventType = "delta"
	// EventTypeRelatedQuestions carries follow-up prompt suggestions,
	// emitted once after all content deltas.
	EventTypeRelatedQuestions EventType = "related_questions"
	// EventTypeCacheHit signals that the response was served from the
	// backend's cache rather than freshly generated.
	EventTypeCacheHit EventType = "cache_hit"
)
