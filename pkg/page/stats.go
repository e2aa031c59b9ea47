package page

import (
	"bytes"
	"encoding/json"
)

// StatementStats is the execution snapshot a coordinator attaches to every page.
// The object is opaque to the parser: each field is filled when the wire member
// has the matching JSON type and left zero otherwise. Raw keeps the object as
// received.
type StatementStats struct {
	State                   string `json:"state"`
	WaitingForPrerequisites bool   `json:"waitingForPrerequisites,omitempty"`
	Queued                  bool   `json:"queued"`
	Scheduled               bool   `json:"scheduled"`

	Nodes           int64 `json:"nodes"`
	TotalSplits     int64 `json:"totalSplits"`
	QueuedSplits    int64 `json:"queuedSplits"`
	RunningSplits   int64 `json:"runningSplits"`
	CompletedSplits int64 `json:"completedSplits"`

	CPUTimeMillis                     int64 `json:"cpuTimeMillis"`
	WallTimeMillis                    int64 `json:"wallTimeMillis"`
	WaitingForPrerequisitesTimeMillis int64 `json:"waitingForPrerequisitesTimeMillis,omitempty"`
	QueuedTimeMillis                  int64 `json:"queuedTimeMillis"`
	ElapsedTimeMillis                 int64 `json:"elapsedTimeMillis"`

	ProcessedRows        int64 `json:"processedRows"`
	ProcessedBytes       int64 `json:"processedBytes"`
	PeakMemoryBytes      int64 `json:"peakMemoryBytes"`
	PeakTotalMemoryBytes int64 `json:"peakTotalMemoryBytes,omitempty"`
	SpilledBytes         int64 `json:"spilledBytes"`

	RootStage          *StageStats `json:"rootStage,omitempty"`
	ProgressPercentage *float64    `json:"progressPercentage,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// StageStats describes one stage of the distributed plan and its children.
type StageStats struct {
	StageID         string       `json:"stageId"`
	State           string       `json:"state"`
	Done            bool         `json:"done"`
	Nodes           int64        `json:"nodes"`
	TotalSplits     int64        `json:"totalSplits"`
	QueuedSplits    int64        `json:"queuedSplits"`
	RunningSplits   int64        `json:"runningSplits"`
	CompletedSplits int64        `json:"completedSplits"`
	CPUTimeMillis   int64        `json:"cpuTimeMillis"`
	WallTimeMillis  int64        `json:"wallTimeMillis"`
	ProcessedRows   int64        `json:"processedRows"`
	ProcessedBytes  int64        `json:"processedBytes"`
	SubStages       []StageStats `json:"subStages"`
}

// NewStatementStats decodes a stats snapshot from one JSON object. Only a
// non-object is rejected.
func NewStatementStats(data []byte) (*StatementStats, error) {
	var s StatementStats
	if err := decodeLenient(data, &s); err != nil {
		return nil, err
	}
	s.Raw = json.RawMessage(bytes.TrimSpace(data))
	return &s, nil
}
