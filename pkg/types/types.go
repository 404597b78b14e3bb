package types

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Organization is the tenant root. Every other entity is scoped to one.
type Organization struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// APIKey is a long-lived organization credential. The plaintext is never
// stored; lookup goes through KeyPrefix, confirmation through KeyHash.
type APIKey struct {
	ID             string
	OrganizationID string
	Name           string
	KeyPrefix      string // first 8 chars of the plaintext body, for indexed lookup
	KeyHash        []byte
	RateLimit      int // requests/min budget, enforced outside the core
	RevokedAt      *time.Time
	ExpiresAt      *time.Time
	CreatedAt      time.Time
}

// Valid reports whether the key is usable at the given instant.
func (k *APIKey) Valid(now time.Time) bool {
	if k.RevokedAt != nil {
		return false
	}
	if k.ExpiresAt != nil && !k.ExpiresAt.After(now) {
		return false
	}
	return true
}

// ClusterStatus represents the current state of a relayer registration.
type ClusterStatus string

const (
	ClusterStatusPending  ClusterStatus = "pending"
	ClusterStatusActive   ClusterStatus = "active"
	ClusterStatusInactive ClusterStatus = "inactive"
	ClusterStatusFailed   ClusterStatus = "failed"
)

// Cluster is the control plane's record of one relayer registration,
// not the customer Kubernetes cluster itself.
type Cluster struct {
	ID             string
	OrganizationID string
	Name           string
	Status         ClusterStatus
	SecretHash     []byte
	RelayerVersion string
	Capabilities   []string
	LastHeartbeat  *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AgentStatus represents the registration state of an agent across the
// organization's relayers.
type AgentStatus string

const (
	AgentStatusPending AgentStatus = "pending"
	AgentStatusActive  AgentStatus = "active"
	AgentStatusFailed  AgentStatus = "failed"
)

// AgentResources describes the resource requests an agent runs with.
type AgentResources struct {
	CPU    string `json:"cpu,omitempty"`
	Memory string `json:"memory,omitempty"`
}

// RetryPolicy configures the downstream workflow engine's retry behavior.
type RetryPolicy struct {
	MaxAttempts    int `json:"maxAttempts"`
	BackoffSeconds int `json:"backoffSeconds"`
}

// Agent is a named, versioned execution recipe. Unique on
// (OrganizationID, Name).
type Agent struct {
	ID             string
	OrganizationID string
	Name           string
	Image          string
	Resources      *AgentResources
	RetryPolicy    *RetryPolicy
	Status         AgentStatus
	ConfigHash     string
	UseSandbox     bool
	WarmPoolSize   int
	NetworkPolicy  string
	Env            map[string]string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ExecutionStatus represents a point in the execution lifecycle.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusQueued    ExecutionStatus = "queued"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed
}

// Execution is a single invocation of an agent with concrete input.
type Execution struct {
	ID             string
	OrganizationID string
	AgentID        string
	ClusterID      string // empty until a cluster is selected
	Status         ExecutionStatus
	Priority       Priority
	Input          json.RawMessage
	Result         json.RawMessage
	Error          string
	Attempt        int
	DurationMs     int64
	CreatedAt      time.Time
	QueuedAt       *time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

// Priority orders messages within one cluster queue.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// WireCode returns the numeric priority carried on work_item frames.
func (p Priority) WireCode() int32 {
	switch p {
	case PriorityHigh:
		return 1
	case PriorityLow:
		return 3
	default:
		return 2
	}
}

// ParsePriority maps a request string to a Priority, defaulting to normal.
func ParsePriority(s string) Priority {
	switch Priority(strings.ToLower(s)) {
	case PriorityHigh:
		return PriorityHigh
	case PriorityLow:
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// MessageKind tags the QueueMessage union.
type MessageKind string

const (
	MessageKindWork         MessageKind = "work"
	MessageKindRegistration MessageKind = "registration"
)

// WorkMessage instructs a relayer to run one execution.
type WorkMessage struct {
	ExecutionID string          `json:"executionId"`
	AgentName   string          `json:"agentName"`
	Input       json.RawMessage `json:"input,omitempty"`
}

// RegistrationMessage pushes an agent definition to a relayer.
type RegistrationMessage struct {
	AgentID       string            `json:"agentId"`
	AgentName     string            `json:"agentName"`
	Image         string            `json:"image"`
	Resources     *AgentResources   `json:"resources,omitempty"`
	RetryPolicy   *RetryPolicy      `json:"retryPolicy,omitempty"`
	ConfigHash    string            `json:"configHash"`
	UseSandbox    bool              `json:"useAgentSandbox"`
	WarmPoolSize  int               `json:"warmPoolSize"`
	NetworkPolicy string            `json:"networkPolicy,omitempty"`
	Env           map[string]string `json:"environmentVariables,omitempty"`
}

// QueueMessage is the in-flight unit between enqueue and stream write.
// Exactly one of Work or Registration is set, per Kind.
type QueueMessage struct {
	Kind         MessageKind          `json:"kind"`
	Priority     Priority             `json:"priority"`
	EnqueuedAt   time.Time            `json:"enqueuedAt"`
	Work         *WorkMessage         `json:"work,omitempty"`
	Registration *RegistrationMessage `json:"registration,omitempty"`
}

// LogEntry is one ingested log line, scoped to the execution's tenant.
type LogEntry struct {
	OrganizationID string
	ExecutionID    string
	Timestamp      time.Time
	Level          string
	Message        string
	Fields         map[string]string
}

// MetricPoint is one ingested metric sample.
type MetricPoint struct {
	OrganizationID string
	ExecutionID    string
	Name           string
	Timestamp      time.Time
	Value          float64
	Labels         map[string]string
}

// TraceSpan is one ingested trace span.
type TraceSpan struct {
	OrganizationID string
	ExecutionID    string
	TraceID        string
	SpanID         string
	ParentSpanID   string
	Name           string
	StartTime      time.Time
	EndTime        time.Time
	Attributes     map[string]string
}

// AuditEntry records one mutating operation against the HTTP surface.
type AuditEntry struct {
	ID             string
	OrganizationID string
	Actor          string
	Action         string
	Resource       string
	Details        json.RawMessage
	CreatedAt      time.Time
}

// NewID returns a prefixed identifier, e.g. "ex_5f3a...".
func NewID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
