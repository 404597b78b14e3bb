package wire

import (
	"encoding/json"
	"time"
)

// Metadata keys carrying credentials on RPCs.
const (
	MetadataAPIKey        = "x-api-key"
	MetadataClusterID     = "cluster-id"
	MetadataClusterSecret = "x-cluster-secret"
)

// RegisterClusterRequest is the one-time registration call payload.
type RegisterClusterRequest struct {
	ClusterName    string   `json:"clusterName"`
	RelayerVersion string   `json:"relayerVersion"`
	Capabilities   []string `json:"capabilities,omitempty"`
}

// RegisterClusterResponse carries the new cluster identity. ConfigJSON
// is an encoded RelayerConfig; the secret inside it is shown exactly
// once and never recoverable afterwards.
type RegisterClusterResponse struct {
	ClusterID  string `json:"clusterId"`
	ConfigJSON string `json:"configJson"`
}

// RelayerConfig is the decoded form of RegisterClusterResponse.ConfigJSON.
type RelayerConfig struct {
	ClusterSecret       string `json:"clusterSecret"`
	HeartbeatIntervalMs int    `json:"heartbeatIntervalMs"`
	LogLevel            string `json:"logLevel"`
}

// Frame kinds sent by the relayer.
const (
	KindHeartbeat               = "heartbeat"
	KindExecutionStatus         = "execution_status"
	KindLogBatch                = "log_batch"
	KindMetricBatch             = "metric_batch"
	KindTraceBatch              = "trace_batch"
	KindAgentRegistrationStatus = "agent_registration_status"
)

// Frame kinds sent by the control plane.
const (
	KindWorkItem          = "work_item"
	KindAgentRegistration = "agent_registration"
)

// RelayerMessage is the client-to-server frame union. Kind selects
// which field is set.
type RelayerMessage struct {
	Kind                    string                   `json:"kind"`
	Heartbeat               *Heartbeat               `json:"heartbeat,omitempty"`
	ExecutionStatus         *ExecutionStatusUpdate   `json:"executionStatus,omitempty"`
	LogBatch                *LogBatch                `json:"logBatch,omitempty"`
	MetricBatch             *MetricBatch             `json:"metricBatch,omitempty"`
	TraceBatch              *TraceBatch              `json:"traceBatch,omitempty"`
	AgentRegistrationStatus *AgentRegistrationStatus `json:"agentRegistrationStatus,omitempty"`
}

// ServerMessage is the server-to-client frame union.
type ServerMessage struct {
	Kind              string             `json:"kind"`
	WorkItem          *WorkItem          `json:"workItem,omitempty"`
	AgentRegistration *AgentRegistration `json:"agentRegistration,omitempty"`
}

// Heartbeat is the relayer's liveness signal.
type Heartbeat struct {
	Timestamp        time.Time `json:"timestamp"`
	ActiveExecutions int       `json:"activeExecutions"`
}

// ExecutionStatusUpdate reports a lifecycle transition observed by the
// relayer.
type ExecutionStatusUpdate struct {
	ExecutionID string          `json:"executionId"`
	Status      string          `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	DurationMs  int64           `json:"durationMs,omitempty"`
}

// LogLine is one forwarded log record.
type LogLine struct {
	ExecutionID string            `json:"executionId"`
	Timestamp   time.Time         `json:"timestamp"`
	Level       string            `json:"level,omitempty"`
	Message     string            `json:"message"`
	Fields      map[string]string `json:"fields,omitempty"`
}

// LogBatch carries forwarded execution logs.
type LogBatch struct {
	Entries []LogLine `json:"entries"`
}

// MetricSample is one forwarded metric point.
type MetricSample struct {
	ExecutionID string            `json:"executionId"`
	Name        string            `json:"name"`
	Timestamp   time.Time         `json:"timestamp"`
	Value       float64           `json:"value"`
	Labels      map[string]string `json:"labels,omitempty"`
}

// MetricBatch carries forwarded metric samples.
type MetricBatch struct {
	Points []MetricSample `json:"points"`
}

// Span is one forwarded trace span.
type Span struct {
	ExecutionID  string            `json:"executionId"`
	TraceID      string            `json:"traceId"`
	SpanID       string            `json:"spanId"`
	ParentSpanID string            `json:"parentSpanId,omitempty"`
	Name         string            `json:"name"`
	StartTime    time.Time         `json:"startTime"`
	EndTime      time.Time         `json:"endTime"`
	Attributes   map[string]string `json:"attributes,omitempty"`
}

// TraceBatch carries forwarded trace spans.
type TraceBatch struct {
	Spans []Span `json:"spans"`
}

// AgentRegistrationStatus acknowledges an agent_registration frame.
type AgentRegistrationStatus struct {
	AgentID   string `json:"agentId"`
	AgentName string `json:"agentName"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// WorkItem instructs the relayer to run one execution.
type WorkItem struct {
	ExecutionID string          `json:"executionId"`
	AgentName   string          `json:"agentName"`
	Input       json.RawMessage `json:"input,omitempty"`
	Priority    int32           `json:"priority"`
}

// AgentRegistration pushes an agent definition to the relayer.
type AgentRegistration struct {
	AgentID       string            `json:"agentId"`
	AgentName     string            `json:"agentName"`
	Image         string            `json:"image"`
	ResourcesJSON json.RawMessage   `json:"resources,omitempty"`
	RetryJSON     json.RawMessage   `json:"retryPolicy,omitempty"`
	ConfigHash    string            `json:"configHash"`
	UseSandbox    bool              `json:"useAgentSandbox"`
	WarmPoolSize  int               `json:"warmPoolSize"`
	NetworkPolicy string            `json:"networkPolicy,omitempty"`
	Env           map[string]string `json:"environmentVariables,omitempty"`
}
