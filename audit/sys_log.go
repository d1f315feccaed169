//go:build !windows && !plan9

package audit

import (
	"encoding/json"
	"fmt"
	"log/syslog"
	"time"
)

// Ensure SyslogLogger implements Logger interface
var _ Logger = (*SyslogLogger)(nil)

type SyslogOptions struct {
	Network  string `json:"network"`  // "tcp", "udp", ""
	Address  string `json:"address"`  // "localhost:514"
	Priority int    `json:"priority"` // syslog.LOG_INFO, etc.
	Tag      string `json:"tag"`
}

// SyslogLogger forwards audit events to the local or a remote syslog daemon.
// Query is unsupported: syslog is write-only from the vault's perspective.
type SyslogLogger struct {
	config     *Config
	syslogOpts SyslogOptions
	writer     *syslog.Writer
}

// NewSyslogLogger creates a new syslog audit logger with options
func NewSyslogLogger(config *Config) (*SyslogLogger, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	var syslogOpts SyslogOptions
	if err := parseOptions(config.Options, &syslogOpts); err != nil {
		return nil, fmt.Errorf("invalid syslog logger options: %w", err)
	}

	if syslogOpts.Priority == 0 {
		switch config.LogLevel {
		case "error":
			syslogOpts.Priority = int(syslog.LOG_ERR | syslog.LOG_USER)
		case "warn":
			syslogOpts.Priority = int(syslog.LOG_WARNING | syslog.LOG_USER)
		default:
			syslogOpts.Priority = int(syslog.LOG_INFO | syslog.LOG_USER)
		}
	}

	if syslogOpts.Tag == "" {
		syslogOpts.Tag = "ade-crypt-audit"
	}

	var writer *syslog.Writer
	var err error

	if syslogOpts.Network != "" && syslogOpts.Address != "" {
		writer, err = syslog.Dial(syslogOpts.Network, syslogOpts.Address,
			syslog.Priority(syslogOpts.Priority), syslogOpts.Tag)
	} else {
		writer, err = syslog.New(syslog.Priority(syslogOpts.Priority), syslogOpts.Tag)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create syslog writer: %w", err)
	}

	return &SyslogLogger{
		config:     config,
		syslogOpts: syslogOpts,
		writer:     writer,
	}, nil
}

func (s *SyslogLogger) Log(action string, success bool, metadata map[string]interface{}) error {
	if !s.config.Enabled {
		return nil
	}

	event := Event{
		ID:        generateEventID(),
		Timestamp: time.Now().UTC(),
		Action:    action,
		Success:   success,
	}
	promoteFields(&event, metadata)

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to serialize audit event: %w", err)
	}

	if success {
		return s.writer.Info(string(eventJSON))
	}
	return s.writer.Warning(string(eventJSON))
}

func (s *SyslogLogger) Query(options QueryOptions) (QueryResult, error) {
	return QueryResult{}, fmt.Errorf("syslog audit logger does not support queries")
}

func (s *SyslogLogger) Close() error {
	if s.writer == nil {
		return nil
	}
	return s.writer.Close()
}
