package consumer

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Action names what happened to a catalog record.
type Action string

const (
	ActionUpsert  Action = "upsert"
	ActionDelete  Action = "delete"
	ActionRebuild Action = "rebuild"
)

const maxRecordIDLength = 512

// ChangeEvent is the payload of the record-changes topic. Upserts either
// carry the record document inline or leave the indexer to fetch it from
// the metadata reader by RecordID.
type ChangeEvent struct {
	Action     Action    `json:"action"`
	RecordID   string    `json:"record_id"`
	Record     string    `json:"record,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s:%s", k, e.Fields[k])
	}
	return strings.Join(parts, "; ")
}

// Validate checks that the event names a known action and, except for
// rebuilds, a usable record identifier.
func (ev *ChangeEvent) Validate() error {
	errs := make(map[string]string)
	switch ev.Action {
	case ActionUpsert, ActionDelete, ActionRebuild:
	case "":
		errs["action"] = "action is required"
	default:
		errs["action"] = fmt.Sprintf("unknown action %q", ev.Action)
	}

	id := strings.TrimSpace(ev.RecordID)
	if ev.Action != ActionRebuild {
		if id == "" && (ev.Action != ActionUpsert || ev.Record == "") {
			errs["record_id"] = "record id is required"
		}
	}
	if len(id) > maxRecordIDLength {
		errs["record_id"] = fmt.Sprintf("record id must be at most %d characters", maxRecordIDLength)
	}
	if ev.Record != "" && ev.Action != ActionUpsert {
		errs["record"] = "only upserts may carry a record"
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
