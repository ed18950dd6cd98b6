// Package export renders the local entity graph for collaborators.
//
// Exports read only the local store, never the network, so they work
// offline and reflect exactly what the user sees, pending changes included.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/syncboard/syncboard/internal/model"
	"github.com/syncboard/syncboard/internal/store"
)

// FormatVersion stamps JSON exports so importers can detect shape changes.
const FormatVersion = "1.0"

// Snapshot is the full-graph JSON export shape.
type Snapshot struct {
	Projects   []json.RawMessage `json:"projects"`
	Users      []json.RawMessage `json:"users"`
	Tasks      []json.RawMessage `json:"tasks"`
	Milestones []json.RawMessage `json:"milestones"`
	ExportDate time.Time         `json:"exportDate"`
	Version    string            `json:"version"`
}

// JSON exports the full entity graph with metadata.
func JSON(st store.Store) ([]byte, error) {
	snap := Snapshot{
		ExportDate: time.Now().UTC(),
		Version:    FormatVersion,
	}
	var err error
	if snap.Projects, err = rawList(st, model.EntityProjects); err != nil {
		return nil, err
	}
	if snap.Users, err = rawList(st, model.EntityUsers); err != nil {
		return nil, err
	}
	if snap.Tasks, err = rawList(st, model.EntityTasks); err != nil {
		return nil, err
	}
	if snap.Milestones, err = rawList(st, model.EntityMilestones); err != nil {
		return nil, err
	}
	out, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode export: %w", err)
	}
	return out, nil
}

func rawList(st store.Store, entityType model.EntityType) ([]json.RawMessage, error) {
	records, err := st.List(entityType)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", entityType, err)
	}
	out := make([]json.RawMessage, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.Data)
	}
	return out, nil
}

// csvHeader is the fixed task-sheet column order collaborators expect.
var csvHeader = []string{
	"Project", "Title", "Description", "Status", "Priority",
	"Assignee", "Due Date", "Estimated Hours", "Tags",
}

// CSV exports the flattened task list. Project and assignee IDs resolve to
// names via the local projects and users collections; unresolvable IDs pass
// through verbatim rather than dropping the row.
func CSV(st store.Store) (string, error) {
	projectNames, err := nameIndex(st, model.EntityProjects, "name")
	if err != nil {
		return "", err
	}
	userNames, err := nameIndex(st, model.EntityUsers, "name")
	if err != nil {
		return "", err
	}
	records, err := st.List(model.EntityTasks)
	if err != nil {
		return "", fmt.Errorf("failed to read tasks: %w", err)
	}

	var b strings.Builder
	w := csv.NewWriter(&b)
	if err := w.Write(csvHeader); err != nil {
		return "", fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, rec := range records {
		var task model.Task
		if err := json.Unmarshal(rec.Data, &task); err != nil {
			return "", fmt.Errorf("failed to decode task %s: %w", rec.ID, err)
		}
		hours := ""
		if task.EstimatedHours > 0 {
			hours = strconv.FormatFloat(task.EstimatedHours, 'f', -1, 64)
		}
		row := []string{
			resolve(projectNames, task.ProjectID),
			task.Title,
			task.Description,
			task.Status,
			task.Priority,
			resolve(userNames, task.AssigneeID),
			task.DueDate,
			hours,
			strings.Join(task.Tags, "; "),
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("failed to flush csv: %w", err)
	}
	return b.String(), nil
}

// nameIndex maps record IDs to a display field in one collection.
func nameIndex(st store.Store, entityType model.EntityType, field string) (map[string]string, error) {
	records, err := st.List(entityType)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", entityType, err)
	}
	idx := make(map[string]string, len(records))
	for _, rec := range records {
		var doc map[string]any
		if json.Unmarshal(rec.Data, &doc) != nil {
			continue
		}
		if name, ok := doc[field].(string); ok && name != "" {
			idx[rec.ID] = name
		}
	}
	return idx, nil
}

func resolve(idx map[string]string, id string) string {
	if id == "" {
		return ""
	}
	if name, ok := idx[id]; ok {
		return name
	}
	return id
}
