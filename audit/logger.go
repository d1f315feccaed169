package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Config defines audit logging configuration
type Config struct {
	Enabled  bool                   `json:"enabled"`
	Type     ConfigType             `json:"type"`    // "file", "syslog", ""
	Options  map[string]interface{} `json:"options"` // Provider-specific options
	LogLevel string                 `json:"log_level,omitempty"`
}

type ConfigType string

const (
	FileAuditType   ConfigType = "file"
	SyslogAuditType ConfigType = "syslog"
	NoOp            ConfigType = ""
)

// Logger is the hook the vault invokes on every mutating operation.
// Implementations own formatting and retention of the log; the vault only
// ever calls Log with names, counts and status, never key material or
// plaintext.
type Logger interface {
	Log(action string, success bool, metadata map[string]interface{}) error
	Query(options QueryOptions) (QueryResult, error)
	Close() error
}

// Event represents an audit log event
type Event struct {
	ID         string                 `json:"id"`
	RequestID  string                 `json:"request_id,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Action     string                 `json:"action"`
	Success    bool                   `json:"success"`
	Error      string                 `json:"error,omitempty"`
	SecretName string                 `json:"secret_name,omitempty"`
	KeyName    string                 `json:"key_name,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Duration   int64                  `json:"duration_ms,omitempty"`
}

// QueryOptions for filtering audit logs
type QueryOptions struct {
	Since      *time.Time
	Until      *time.Time
	Action     string
	Success    *bool // nil = all, true = only success, false = only failures
	SecretName string
	KeyName    string
	Limit      int
}

// QueryResult contains the results of an audit query
type QueryResult struct {
	Events     []Event `json:"events"`
	TotalCount int     `json:"total_count"`
	Filtered   int     `json:"filtered"`
	HasMore    bool    `json:"has_more"`
}

// NewLogger creates an appropriate logger based on configuration
func NewLogger(config *Config) (Logger, error) {
	if config == nil || !config.Enabled {
		return &NoOpLogger{}, nil
	}

	switch config.Type {
	case FileAuditType:
		return NewFileLogger(config)
	case SyslogAuditType:
		return NewSyslogLogger(config)
	case NoOp:
		return &NoOpLogger{}, nil
	default:
		return nil, fmt.Errorf("unknown audit provider: %s", config.Type)
	}
}

func generateEventID() string {
	return uuid.NewString()
}

// promoteFields lifts well-known metadata keys into their event columns so
// queries can filter on them; everything else stays in Metadata.
func promoteFields(event *Event, metadata map[string]interface{}) {
	if len(metadata) == 0 {
		return
	}
	rest := make(map[string]interface{}, len(metadata))
	for key, value := range metadata {
		switch key {
		case "request_id":
			if s, ok := value.(string); ok {
				event.RequestID = s
				continue
			}
		case "secret_name":
			if s, ok := value.(string); ok {
				event.SecretName = s
				continue
			}
		case "key_name":
			if s, ok := value.(string); ok {
				event.KeyName = s
				continue
			}
		case "error":
			if s, ok := value.(string); ok {
				event.Error = s
				continue
			}
		case "duration_ms":
			if d, ok := value.(int64); ok {
				event.Duration = d
				continue
			}
		}
		rest[key] = value
	}
	if len(rest) == 0 {
		rest = nil
	}
	event.Metadata = rest
}

// parseOptions converts map[string]interface{} to a specific options struct
func parseOptions(options map[string]interface{}, target interface{}) error {
	if len(options) == 0 {
		return nil
	}

	jsonData, err := json.Marshal(options)
	if err != nil {
		return fmt.Errorf("failed to marshal options: %w", err)
	}

	if err = json.Unmarshal(jsonData, target); err != nil {
		return fmt.Errorf("failed to unmarshal options: %w", err)
	}

	return nil
}
