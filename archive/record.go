package archive

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BaSui01/swarmflow/orchestrator"
	"github.com/BaSui01/swarmflow/registry"
)

// defaultQueryLimit caps Recent* queries when the caller passes no limit.
const defaultQueryLimit = 50

// TaskRecord is one archived terminal task.
type TaskRecord struct {
	ID          uint       `gorm:"primaryKey" json:"-" bson:"-"`
	TaskID      string     `gorm:"size:64;not null;uniqueIndex:idx_archived_tasks_task_id" json:"task_id" bson:"task_id"`
	AgentID     string     `gorm:"size:128;not null;index:idx_archived_tasks_agent_id" json:"agent_id" bson:"agent_id"`
	Type        string     `gorm:"size:64;not null" json:"type" bson:"type"`
	Status      string     `gorm:"size:16;not null" json:"status" bson:"status"`
	Details     JSONMap    `gorm:"type:text" json:"details,omitempty" bson:"details,omitempty"`
	Results     JSONMap    `gorm:"type:text" json:"results,omitempty" bson:"results,omitempty"`
	AssignedAt  time.Time  `gorm:"not null" json:"assigned_at" bson:"assigned_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
	ArchivedAt  time.Time  `gorm:"not null;index:idx_archived_tasks_archived_at" json:"archived_at" bson:"archived_at"`
}

// TableName names the SQL table; the embedded migrations create the same one.
func (TaskRecord) TableName() string { return "archived_tasks" }

// ConsensusRecord is one consensus tally snapshot.
type ConsensusRecord struct {
	ID         uint       `gorm:"primaryKey" json:"-" bson:"-"`
	Topic      string     `gorm:"size:128;not null;index:idx_consensus_records_topic" json:"topic" bson:"topic"`
	TaskID     string     `gorm:"size:64;not null;index:idx_consensus_records_task_id" json:"task_id" bson:"task_id"`
	Status     string     `gorm:"size:16;not null" json:"status" bson:"status"`
	TotalVotes int        `gorm:"not null;default:0" json:"total_votes" bson:"total_votes"`
	VoteCounts CountMap   `gorm:"type:text" json:"vote_counts,omitempty" bson:"vote_counts,omitempty"`
	Consensus  StringList `gorm:"type:text" json:"consensus,omitempty" bson:"consensus,omitempty"`
	Message    string     `gorm:"type:text" json:"message" bson:"message"`
	RecordedAt time.Time  `gorm:"not null;index:idx_consensus_records_recorded_at" json:"recorded_at" bson:"recorded_at"`
}

// TableName names the SQL table; the embedded migrations create the same one.
func (ConsensusRecord) TableName() string { return "consensus_records" }

// newTaskRecord converts a live registry task into its archived form.
func newTaskRecord(task *registry.Task) TaskRecord {
	return TaskRecord{
		TaskID:      task.TaskID,
		AgentID:     task.AgentID,
		Type:        task.Type,
		Status:      string(task.Status),
		Details:     JSONMap(task.Details),
		Results:     JSONMap(task.Results),
		AssignedAt:  task.AssignedAt,
		CompletedAt: task.CompletedAt,
		ArchivedAt:  time.Now().UTC(),
	}
}

// newConsensusRecord converts a tally into its archived form.
func newConsensusRecord(result *orchestrator.ConsensusResult) ConsensusRecord {
	return ConsensusRecord{
		Topic:      result.VoteTopic,
		TaskID:     result.TaskID,
		Status:     string(result.Status),
		TotalVotes: result.TotalVotes,
		VoteCounts: CountMap(result.VoteCounts),
		Consensus:  StringList(result.Consensus),
		Message:    result.Message,
		RecordedAt: time.Now().UTC(),
	}
}

// =============================================================================
// JSON text columns
// =============================================================================
// Structured payloads are stored as JSON text so one schema works across
// postgres, mysql, and sqlite. The mongo backend stores the same fields as
// native documents; these types marshal to BSON as plain maps and arrays.

// JSONMap stores a free-form map as a JSON text column.
type JSONMap map[string]any

// Value implements driver.Valuer. A nil map stores NULL.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return jsonValue(m)
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(value any) error { return scanJSON(value, m) }

// CountMap stores per-option ballot counts as a JSON text column.
type CountMap map[string]int

// Value implements driver.Valuer. A nil map stores NULL.
func (m CountMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return jsonValue(m)
}

// Scan implements sql.Scanner.
func (m *CountMap) Scan(value any) error { return scanJSON(value, m) }

// StringList stores a string slice as a JSON text column.
type StringList []string

// Value implements driver.Valuer. A nil slice stores NULL.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return jsonValue(l)
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(value any) error { return scanJSON(value, l) }

func jsonValue(v any) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func scanJSON(value, dest any) error {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("cannot scan %T into a JSON column", value)
	}
}
