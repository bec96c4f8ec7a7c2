// Package audit provides a durable, tamper-evident, append-only record
// of every boundary crossing. Each segment file is newline-delimited
// JSON: a header line followed by events whose previous_hash fields
// form a SHA-256 chain over the exact bytes previously written.
// Entries are optionally HMAC-SHA256 signed.
package audit

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const logVersion = "1.0"

// Config controls audit log placement, rotation and signing.
type Config struct {
	// Dir is the directory holding audit segments.
	Dir string
	// SigningKey signs entries when SignEntries is set. A 256-bit
	// random key is generated when empty; verification across restarts
	// then requires out-of-band key persistence, which is a deployment
	// concern.
	SigningKey []byte
	// SignEntries enables per-entry HMAC signatures.
	SignEntries bool
	// MaxFileSize is the rotation threshold in bytes.
	MaxFileSize int64
	// MaxFiles is the retention cap; oldest segments beyond it are
	// deleted on rotation.
	MaxFiles int
}

// DefaultConfig returns 10 MB segments with 100-file retention and
// signing enabled.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:         dir,
		SignEntries: true,
		MaxFileSize: 10 * 1024 * 1024,
		MaxFiles:    100,
	}
}

// Logger is the append-only audit log. All appends serialize through
// one mutex onto a single monotonically advancing hash chain; the
// chain is per-segment and re-seeds on rotation.
type Logger struct {
	cfg    Config
	logger *zap.Logger

	mu          sync.Mutex
	file        *os.File
	currentPath string
	prevHash    string
	eventCount  int
}

// New creates the audit logger, opens the first segment and writes its
// header.
func New(cfg Config, logger *zap.Logger) (*Logger, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("audit: log directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("audit: create log directory: %w", err)
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 10 * 1024 * 1024
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = 100
	}
	if len(cfg.SigningKey) == 0 {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("audit: generate signing key: %w", err)
		}
		cfg.SigningKey = key
	}

	l := &Logger{
		cfg:    cfg,
		logger: logger.Named("audit"),
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.openSegment(); err != nil {
		return nil, err
	}
	return l, nil
}

// Log appends one event and returns it with chain and signature fields
// populated. A write failure is a reliability failure of the audit
// subsystem itself; callers in compliance-sensitive deployments should
// fail their request rather than proceed un-audited.
func (l *Logger) Log(eventType EventType, message string, opts Options) (*Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	severity := opts.Severity
	if severity == "" {
		severity = SeverityInfo
	}
	details := opts.Details
	if details == nil {
		details = map[string]any{}
	}

	event := &Event{
		EventID:      uuid.NewString(),
		EventType:    eventType,
		Severity:     severity,
		Message:      message,
		Timestamp:    time.Now().UTC(),
		UserID:       opts.UserID,
		SessionID:    opts.SessionID,
		RequestID:    opts.RequestID,
		Details:      details,
		PreviousHash: l.prevHash,
	}

	if l.cfg.SignEntries {
		event.Signature = signEvent(l.cfg.SigningKey, event.EventID, string(event.EventType),
			event.Message, event.PreviousHash, event.Timestamp.Format(time.RFC3339Nano))
	}

	line, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("audit: marshal event: %w", err)
	}
	if err := l.writeLine(line); err != nil {
		l.logger.Error("audit append failed", zap.Error(err))
		return nil, err
	}

	l.prevHash = hashBytes(line)
	l.eventCount++

	if err := l.rotateIfNeeded(); err != nil {
		// The event itself is durable; rotation failure only affects
		// subsequent segments.
		l.logger.Error("audit rotation failed", zap.Error(err))
	}

	return event, nil
}

// LogQuery records a query execution. The record holds the query's
// hash and length plus accessed table names, never its result.
func (l *Logger) LogQuery(query, requestID, userID string, tablesAccessed []string) (*Event, error) {
	if tablesAccessed == nil {
		tablesAccessed = []string{}
	}
	return l.Log(EventQueryExecuted, "DAX query executed", Options{
		RequestID: requestID,
		UserID:    userID,
		Details: map[string]any{
			"query_hash":      hashString(query)[:16],
			"query_length":    len(query),
			"tables_accessed": tablesAccessed,
		},
	})
}

// LogLLMRequest records an outbound LLM request. data_included is
// always false: only the sanitized schema crosses the boundary.
func (l *Logger) LogLLMRequest(requestID, provider, schemaHash string, intentLen int) (*Event, error) {
	return l.Log(EventLLMRequest, "LLM inference request", Options{
		RequestID: requestID,
		Details: map[string]any{
			"provider":      provider,
			"schema_hash":   schemaHash,
			"intent_length": intentLen,
			"data_included": false,
		},
	})
}

// LogLLMResponse records a completed LLM call.
func (l *Logger) LogLLMResponse(requestID, provider string, latency time.Duration, tokens int) (*Event, error) {
	return l.Log(EventLLMResponse, "LLM inference completed", Options{
		RequestID: requestID,
		Details: map[string]any{
			"provider":   provider,
			"latency_ms": float64(latency.Microseconds()) / 1000.0,
			"tokens":     tokens,
		},
	})
}

// LogSecurityEvent records a policy or boundary violation at warning
// severity.
func (l *Logger) LogSecurityEvent(eventType EventType, message, requestID string, details map[string]any) (*Event, error) {
	return l.Log(eventType, message, Options{
		Severity:  SeverityWarning,
		RequestID: requestID,
		Details:   details,
	})
}

// CurrentSegment returns the path of the open segment file.
func (l *Logger) CurrentSegment() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentPath
}

// Stats summarizes the on-disk state of the audit log.
type Stats struct {
	Dir             string `json:"log_directory"`
	CurrentFile     string `json:"current_file"`
	TotalFiles      int    `json:"total_files"`
	TotalSizeBytes  int64  `json:"total_size_bytes"`
	EventsInSession int    `json:"events_in_session"`
	SigningEnabled  bool   `json:"signing_enabled"`
}

// Stats returns audit log statistics.
func (l *Logger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	files, _ := l.segmentFiles()
	var total int64
	for _, f := range files {
		if info, err := os.Stat(f); err == nil {
			total += info.Size()
		}
	}
	return Stats{
		Dir:             l.cfg.Dir,
		CurrentFile:     l.currentPath,
		TotalFiles:      len(files),
		TotalSizeBytes:  total,
		EventsInSession: l.eventCount,
		SigningEnabled:  l.cfg.SignEntries,
	}
}

// Close closes the current segment. Appends are flushed individually,
// so Close is not required for durability.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// openSegment creates a fresh segment file with a header line and
// re-seeds the hash chain. Caller holds the lock.
func (l *Logger) openSegment() error {
	now := time.Now().UTC()
	base := fmt.Sprintf("audit_%s", now.Format("20060102_150405"))
	path := filepath.Join(l.cfg.Dir, base+".jsonl")
	// Rotations within one second get a numeric suffix so names stay
	// unique and chronologically sortable.
	for i := 1; ; i++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		path = filepath.Join(l.cfg.Dir, fmt.Sprintf("%s_%02d.jsonl", base, i))
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("audit: open segment: %w", err)
	}

	header, err := json.Marshal(map[string]any{
		"log_version":     logVersion,
		"created_at":      now.Format(time.RFC3339Nano),
		"signing_enabled": l.cfg.SignEntries,
	})
	if err != nil {
		file.Close()
		return fmt.Errorf("audit: marshal header: %w", err)
	}

	l.file = file
	l.currentPath = path
	if err := l.writeLine(header); err != nil {
		return err
	}
	l.prevHash = hashBytes(header)

	l.logger.Debug("audit segment opened", zap.String("path", path))
	return nil
}

func (l *Logger) writeLine(line []byte) error {
	if l.file == nil {
		return fmt.Errorf("audit: log is closed")
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("audit: write: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("audit: flush: %w", err)
	}
	return nil
}

func (l *Logger) rotateIfNeeded() error {
	info, err := l.file.Stat()
	if err != nil {
		return err
	}
	if info.Size() < l.cfg.MaxFileSize {
		return nil
	}

	if err := l.file.Close(); err != nil {
		return err
	}
	l.file = nil

	// Drop the oldest segments beyond the retention cap before opening
	// the next one.
	files, err := l.segmentFiles()
	if err != nil {
		return err
	}
	for len(files) >= l.cfg.MaxFiles {
		oldest := files[0]
		files = files[1:]
		if err := os.Remove(oldest); err != nil {
			return fmt.Errorf("audit: remove %s: %w", oldest, err)
		}
		l.logger.Debug("audit segment deleted", zap.String("path", oldest))
	}

	return l.openSegment()
}

// segmentFiles returns all segment paths sorted oldest first. Segment
// names encode a UTC timestamp, so lexicographic order is
// chronological.
func (l *Logger) segmentFiles() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(l.cfg.Dir, "audit_*.jsonl"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// signEvent computes the HMAC-SHA256 over the canonical JSON form of
// the event's identity fields, with a fixed (alphabetical) key order.
func signEvent(key []byte, eventID, eventType, message, previousHash, timestamp string) string {
	canonical, _ := json.Marshal(struct {
		EventID      string `json:"event_id"`
		EventType    string `json:"event_type"`
		Message      string `json:"message"`
		PreviousHash string `json:"previous_hash"`
		Timestamp    string `json:"timestamp"`
	}{eventID, eventType, message, previousHash, timestamp})

	mac := hmac.New(sha256.New, key)
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil))
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func hashString(s string) string {
	return hashBytes([]byte(s))
}
