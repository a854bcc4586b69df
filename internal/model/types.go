package model

import "time"

// Event is an immutable, append-only record of something that happened to a
// business entity. It is always written in the same transaction as the
// business row it describes.
type Event struct {
	ID          int64                  `json:"id"`
	EventType   string                 `json:"eventType"`
	AggregateID string                 `json:"aggregateId"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
	CreatedAt   time.Time              `json:"createdAt"`
}

// Closed event taxonomy (spec.md §6). Downstream consumers must tolerate
// unknown fields in Payload, never unknown EventType values outside this set.
const (
	EventMessageCreated        = "message:created"
	EventMessageEdited         = "message:edited"
	EventMessageDeleted        = "message:deleted"
	EventMessageReactionAdded  = "message:reaction_added"
	EventMessageReactionRemove = "message:reaction_removed"
	EventStreamCreated         = "stream:created"
	EventStreamMemberJoined    = "stream:member_joined"
	EventStreamMemberLeft      = "stream:member_left"
	EventConversationCreated   = "conversation:created"
	EventConversationUpdated   = "conversation:updated"
	EventCommandDispatched     = "command:dispatched"
)

// ListenerCursor tracks how far a single named listener has progressed
// through the Event Log, and who currently holds its processing lease.
type ListenerCursor struct {
	ListenerID      string    `json:"listenerId"`
	LastProcessedID int64     `json:"lastProcessedId"`
	ProcessedIDs    []int64   `json:"processedIds,omitempty"`
	LeaseHolder     string    `json:"leaseHolder,omitempty"`
	LeaseExpiresAt  time.Time `json:"leaseExpiresAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// JobState is the lifecycle state of a queued Job.
type JobState string

const (
	JobStatePending JobState = "pending"
	JobStateRunning JobState = "running"
	JobStateDone    JobState = "done"
	JobStateFailed  JobState = "failed"
	JobStateDead    JobState = "dead"
)

// Job is a single unit of durable, retryable work on a named queue.
type Job struct {
	ID             string                 `json:"id"`
	Queue          string                 `json:"queue"`
	Payload        map[string]interface{} `json:"payload"`
	Priority       int                    `json:"priority"`
	State          JobState               `json:"state"`
	Attempts       int                    `json:"attempts"`
	RetryLimit     int                    `json:"retryLimit"`
	SingletonKey   *string                `json:"singletonKey,omitempty"`
	NextAttemptAt  time.Time              `json:"nextAttemptAt"`
	LeaseExpiresAt *time.Time             `json:"leaseExpiresAt,omitempty"`
	LastError      *string                `json:"lastError,omitempty"`
	CreatedAt      time.Time              `json:"createdAt"`
	UpdatedAt      time.Time              `json:"updatedAt"`
}

// SearchQuery is one planned or baseline query the Retrieval Loop executes
// against a single target.
type SearchQuery struct {
	Target    string `json:"target"`    // memos | messages | attachments
	Type      string `json:"type"`      // semantic | exact
	QueryText string `json:"queryText"`
}

// SearchExecuted records one query actually run, for the searchesPerformed
// accounting the spec requires.
type SearchExecuted struct {
	Target      string `json:"target"`
	Type        string `json:"type"`
	QueryText   string `json:"queryText"`
	ResultCount int    `json:"resultCount"`
}

// RetrievalCacheEntry records the outcome of a Retrieval Loop invocation so a
// repeated trigger for the same message can be served without recomputation.
// Intermediate enriched result sets are deliberately not part of this type.
type RetrievalCacheEntry struct {
	WorkspaceID      string           `json:"workspaceId"`
	TriggerMessageID string           `json:"triggerMessageId"`
	ShouldSearch     bool             `json:"shouldSearch"`
	RetrievedContext string           `json:"retrievedContext"`
	Sources          []string         `json:"sources"`
	SearchesPerformed []SearchExecuted `json:"searchesPerformed"`
	CreatedAt        time.Time        `json:"createdAt"`
}

// CostRecord is an append-only ledger row for a single model-provider call.
type CostRecord struct {
	ID               int64     `json:"id"`
	WorkspaceID      string    `json:"workspaceId"`
	ActorID          string    `json:"actorId,omitempty"`
	SessionID        string    `json:"sessionId,omitempty"`
	FunctionID       string    `json:"functionId"`
	Model            string    `json:"model"`
	Origin           string    `json:"origin"`
	PromptTokens     int64     `json:"promptTokens"`
	CompletionTokens int64     `json:"completionTokens"`
	TotalTokens      int64     `json:"totalTokens"`
	CostCents        float64   `json:"costCents"`
	CreatedAt        time.Time `json:"createdAt"`
}

// Stream is an addressable conversation channel within a workspace.
type Stream struct {
	StreamID     string    `json:"streamId"`
	WorkspaceID  string    `json:"workspaceId"`
	Title        string    `json:"title"`
	NeedsName    bool      `json:"needsName"`
	CreationTime time.Time `json:"creationTime"`
}

// StreamMember is a membership row linking an actor (human or not) to a
// Stream, used to resolve access specifications and author kind (human vs
// non-human) for listener filters.
type StreamMember struct {
	StreamID    string    `json:"streamId"`
	ActorID     string    `json:"actorId"`
	IsHuman     bool      `json:"isHuman"`
	JoinedAt    time.Time `json:"joinedAt"`
}

// Message is an immutable unit of content posted to a Stream. Edits are
// represented by MessageVersion rows, never by mutating Message.
type Message struct {
	MessageID    string    `json:"messageId"`
	StreamID     string    `json:"streamId"`
	WorkspaceID  string    `json:"workspaceId"`
	AuthorID     string    `json:"authorId"`
	AuthorIsHuman bool     `json:"authorIsHuman"`
	Body         string    `json:"body"`
	CreationTime time.Time `json:"creationTime"`
}

// MessageVersion is a point-in-time edit snapshot of a Message.
type MessageVersion struct {
	VersionID string    `json:"versionId"`
	MessageID string    `json:"messageId"`
	Body      string    `json:"body"`
	EditedAt  time.Time `json:"editedAt"`
}

// Conversation is a knowledge-worthy boundary the Boundary Extractor carves
// out of a Stream's messages, refined over time by "completeness updates".
type Conversation struct {
	ConversationID string    `json:"conversationId"`
	StreamID       string    `json:"streamId"`
	WorkspaceID    string    `json:"workspaceId"`
	Title          string    `json:"title"`
	Summary        string    `json:"summary"`
	Complete       bool      `json:"complete"`
	CreationTime   time.Time `json:"creationTime"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Memo is an accumulated, periodically-refreshed summary of a Stream's
// recent activity, produced by the Memo Accumulator/Processor workers.
type Memo struct {
	MemoID           string    `json:"memoId"`
	StreamID         string    `json:"streamId"`
	WorkspaceID      string    `json:"workspaceId"`
	Body             string    `json:"body"`
	ThroughMessageID string    `json:"throughMessageId"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// MemoPendingItem is one unprocessed unit (a message or a conversation
// update) the Memo Accumulator has queued for the next batch-triggered
// memo processing pass.
type MemoPendingItem struct {
	ID          int64     `json:"id"`
	StreamID    string    `json:"streamId"`
	WorkspaceID string    `json:"workspaceId"`
	SourceType  string    `json:"sourceType"` // message | conversation
	SourceID    string    `json:"sourceId"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Attachment is a file reference posted alongside a Message. Storage of the
// underlying bytes is out of scope; only the metadata the Retrieval Loop
// searches over is modeled here.
type Attachment struct {
	AttachmentID    string    `json:"attachmentId"`
	MessageID       string    `json:"messageId"`
	StreamID        string    `json:"streamId"`
	WorkspaceID     string    `json:"workspaceId"`
	Filename        string    `json:"filename"`
	ExtractionText  string    `json:"extractionText"`
	CreationTime    time.Time `json:"creationTime"`
}

// SearchHit represents a single Retrieval Loop result prior to enrichment.
type SearchHit struct {
	ID       string  `json:"id"`
	Snippet  string  `json:"snippet"`
	Score    float64 `json:"score"`
}
