// Package domain holds the core data model shared across the retrieval
// engine: documents, the parent/child chunk hierarchy, the knowledge graph,
// identity, memory, and conversation state (spec §3).
package domain

import "time"

// Document is a source artifact: a law, regulation, pricing sheet, or
// internal doc. Text lives on its ParentChunks; Document only carries
// identity and provenance.
type Document struct {
	ID              string // stable id, e.g. "PP_31_2013"
	Type            string // law | regulation | pricing | internal
	Title           string
	IssuingAuthority string
	Year            int
	Language        string
	SourceURI       string
	IngestionRunID  string
	IsCanonical     bool
	OCRQuality      *float64 // nil when not OCR-derived
}

// ParentChunk is a logical unit of a Document (BAB/Pasal/section). The set of
// ParentChunk ids reachable from a Document forms a tree whose root has a nil
// ParentID; ordered concatenation of leaves reconstructs the document text up
// to normalization.
type ParentChunk struct {
	ID             string // document id + hierarchy path
	DocumentID     string
	HierarchyPath  string
	ParentID       *string
	ChildIDs       []string // ordered
	Text           string
	CharCount      int
	HierarchyLevel int
	Summary        string
}

// ChildChunk is a retrieval-sized slice of a ParentChunk, vector-indexed.
// Every ChildChunk must reference at least one extant ParentChunk; orphans
// are forbidden (enforced by internal/retrieve, not by this type).
type ChildChunk struct {
	UUID          string
	ParentChunkIDs []string // first element is the primary/owning parent
	HierarchyPath string
	Text          string
	Embedding     []float32
	Collection    string
	Tier          string // access level, filterable
	DriveLink     string
	Fingerprint   string // content hash, used for idempotent re-ingestion
}

// EntityType is a closed vocabulary for knowledge-graph nodes.
type EntityType string

const (
	EntityRegulation  EntityType = "REGULATION"
	EntityVisa        EntityType = "VISA"
	EntityRequirement EntityType = "REQUIREMENT"
	EntityAgency      EntityType = "AGENCY"
	EntityCost        EntityType = "COST"
)

// Entity is a knowledge-graph node.
type Entity struct {
	ID          string // snake_case
	Type        EntityType
	Name        string
	Description string
}

// RelationshipType is a closed vocabulary for knowledge-graph edges.
type RelationshipType string

const (
	RelRequires RelationshipType = "REQUIRES"
	RelAmends   RelationshipType = "AMENDS"
	RelDefines  RelationshipType = "DEFINES"
	RelIssuedBy RelationshipType = "ISSUED_BY"
)

// Relationship is a typed edge between two Entities. Both endpoints must
// exist; (Source, Target, Type) triples are unique.
type Relationship struct {
	Source   string
	Target   string
	Type     RelationshipType
	Strength *float64 // optional, in [0, 1]
}

// User is the stable identity record consumed by the memory assembler (C9).
// Credentials and authentication are out of scope for this engine.
type User struct {
	ID             string
	Role           string
	Department     string
	Language       string
	Personalization string
}

// MemoryFact is an append-only fact extracted from a prior turn.
type MemoryFact struct {
	ID         string
	UserID     string
	Content    string
	Source     string
	Confidence float64 // in [0, 1]
	CreatedAt  time.Time
}

// TurnRole enumerates the roles a Turn may carry.
type TurnRole string

const (
	RoleUser      TurnRole = "user"
	RoleAssistant TurnRole = "assistant"
	RoleTool      TurnRole = "tool"
)

// Turn is one entry in a Conversation. Turns within a Conversation are
// strictly time-ordered and role-alternating modulo tool turns.
type Turn struct {
	ConversationID string
	Role           TurnRole
	Content        string
	Timestamp      time.Time
	ToolName       string // set when Role == RoleTool
	ToolCallID     string
}

// Conversation groups an ordered list of Turns for one user.
type Conversation struct {
	ID     string
	UserID string
}

// Session is short-lived state held in the ephemeral store: the conversation
// id, a TTL, and an optional scratchpad used across suspensions.
type Session struct {
	ID             string
	ConversationID string
	TTL            time.Duration
	Scratchpad     map[string]any
}

// Route is a golden-route cache entry: a canonical query fingerprint mapped
// to a known-good ordered ParentChunk id list and its embedding, so recurring
// queries can bypass full retrieval.
type Route struct {
	Fingerprint   string
	Query         string
	Embedding     []float32
	ParentChunkIDs []string
}
