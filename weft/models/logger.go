package models

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// JobLogger writes the step-level log of one job as a stream of JSON
// lines: data lines carry command output, control lines mark step
// transitions. Failures point at the first failing step, not merely
// "job failed".
type JobLogger struct {
	file    *os.File
	encoder *json.Encoder
}

type LogLine struct {
	Kind   string `json:"kind"` // "data" or "control"
	Idx    int    `json:"idx"`  // step index within the job
	Stream string `json:"stream,omitempty"`
	Data   string `json:"data,omitempty"`

	// control lines only
	Step   string     `json:"step,omitempty"`
	Status StepStatus `json:"status,omitempty"`
}

func NewDataLogLine(idx int, data, stream string) LogLine {
	return LogLine{Kind: "data", Idx: idx, Stream: stream, Data: data}
}

func NewControlLogLine(idx int, step string, status StepStatus) LogLine {
	return LogLine{Kind: "control", Idx: idx, Step: step, Status: status}
}

func NewJobLogger(baseDir string, jid JobId) (*JobLogger, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("creating log dir: %w", err)
	}

	path := LogFilePath(baseDir, jid)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("creating log file: %w", err)
	}

	return &JobLogger{
		file:    file,
		encoder: json.NewEncoder(file),
	}, nil
}

func LogFilePath(baseDir string, jid JobId) string {
	return filepath.Join(baseDir, fmt.Sprintf("%s.log", jid.String()))
}

func OpenLogFile(baseDir string, jid JobId) (*os.File, error) {
	file, err := os.Open(LogFilePath(baseDir, jid))
	if err != nil {
		return nil, fmt.Errorf("error opening log file: %w", err)
	}

	return file, nil
}

func (l *JobLogger) Close() error {
	return l.file.Close()
}

// DataWriter returns a writer that records command output for one step.
func (l *JobLogger) DataWriter(idx int, stream string) io.Writer {
	return &dataWriter{
		logger: l,
		idx:    idx,
		stream: stream,
	}
}

// Control records a step transition.
func (l *JobLogger) Control(idx int, step string, status StepStatus) error {
	return l.encoder.Encode(NewControlLogLine(idx, step, status))
}

type dataWriter struct {
	logger *JobLogger
	idx    int
	stream string
}

func (w *dataWriter) Write(p []byte) (int, error) {
	line := strings.TrimRight(string(p), "\r\n")
	entry := NewDataLogLine(w.idx, line, w.stream)
	if err := w.logger.encoder.Encode(entry); err != nil {
		return 0, err
	}
	return len(p), nil
}
