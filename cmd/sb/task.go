package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/syncboard/syncboard/internal/model"
	"github.com/syncboard/syncboard/internal/store"
	"github.com/syncboard/syncboard/internal/ui"
)

var taskCmd = &cobra.Command{
	Use:     "task",
	GroupID: "sync",
	Short:   "Create and update tasks",
	Long: `Task mutations land in the local store immediately and reconcile with
the remote store in the background. Offline edits queue up and replay on
reconnect.`,
}

var (
	taskProject  string
	taskPriority string
	taskAssignee string
	taskDue      string
)

// mutate routes a mutation through the engine when a remote backend is
// configured, or straight into the local store otherwise.
func mutate(ctx context.Context, a *app, entityType model.EntityType, action model.Action, id string, payload []byte) error {
	if a.engine != nil {
		return a.engine.Mutate(ctx, entityType, action, id, payload)
	}
	if action == model.ActionDelete {
		return a.store.Remove(entityType, id)
	}
	return a.store.Upsert(entityType, store.Record{ID: id, Data: payload})
}

var taskAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Create a task",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp(verboseFlag)
		if err != nil {
			fail(err)
		}
		defer a.Close()

		if taskProject == "" {
			fail(fmt.Errorf("--project is required"))
		}
		now := time.Now().UTC()
		task := model.Task{
			ID:         model.NewID(),
			ProjectID:  taskProject,
			Title:      args[0],
			Status:     "todo",
			Priority:   taskPriority,
			AssigneeID: taskAssignee,
			DueDate:    taskDue,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := task.Validate(); err != nil {
			fail(err)
		}
		payload, err := json.Marshal(task)
		if err != nil {
			fail(err)
		}
		if err := mutate(cmd.Context(), a, model.EntityTasks, model.ActionCreate, task.ID, payload); err != nil {
			fail(err)
		}
		fmt.Printf("%s Created task %s\n", ui.RenderPass(ui.GlyphPass), task.ID[:8])
	},
}

var taskStatus string

var taskUpdateCmd = &cobra.Command{
	Use:   "update <task-id>",
	Short: "Update a task's status",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp(verboseFlag)
		if err != nil {
			fail(err)
		}
		defer a.Close()

		rec, task := findTask(a, args[0])
		if rec == nil {
			fail(fmt.Errorf("no task with id %s", args[0]))
		}
		if taskStatus != "" {
			task.Status = taskStatus
		}
		task.UpdatedAt = time.Now().UTC()
		payload, err := json.Marshal(task)
		if err != nil {
			fail(err)
		}
		if err := mutate(cmd.Context(), a, model.EntityTasks, model.ActionUpdate, task.ID, payload); err != nil {
			fail(err)
		}
		fmt.Printf("%s Updated task %s\n", ui.RenderPass(ui.GlyphPass), task.ID[:8])
	},
}

var taskRmCmd = &cobra.Command{
	Use:   "rm <task-id>",
	Short: "Delete a task",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp(verboseFlag)
		if err != nil {
			fail(err)
		}
		defer a.Close()

		rec, task := findTask(a, args[0])
		if rec == nil {
			fail(fmt.Errorf("no task with id %s", args[0]))
		}
		if err := mutate(cmd.Context(), a, model.EntityTasks, model.ActionDelete, task.ID, nil); err != nil {
			fail(err)
		}
		fmt.Printf("%s Deleted task %s\n", ui.RenderPass(ui.GlyphPass), task.ID[:8])
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks from the local store",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp(verboseFlag)
		if err != nil {
			fail(err)
		}
		defer a.Close()

		records, err := a.store.List(model.EntityTasks)
		if err != nil {
			fail(err)
		}
		if len(records) == 0 {
			fmt.Printf("%s No tasks\n", ui.RenderMuted(ui.GlyphDot))
			return
		}
		for _, rec := range records {
			var t model.Task
			if json.Unmarshal(rec.Data, &t) != nil {
				continue
			}
			if taskProject != "" && t.ProjectID != taskProject {
				continue
			}
			glyph := ui.GlyphDot
			if t.Status == "completed" {
				glyph = ui.RenderPass(ui.GlyphPass)
			}
			fmt.Printf("   %s %s  %-12s %s\n", glyph, t.ID[:8], t.Status, t.Title)
		}
	},
}

// findTask resolves a full or prefixed task ID against the local store.
func findTask(a *app, idOrPrefix string) (*store.Record, *model.Task) {
	records, err := a.store.List(model.EntityTasks)
	if err != nil {
		return nil, nil
	}
	for i := range records {
		rec := records[i]
		if rec.ID == idOrPrefix || (len(rec.ID) > len(idOrPrefix) && rec.ID[:len(idOrPrefix)] == idOrPrefix) {
			var t model.Task
			if json.Unmarshal(rec.Data, &t) != nil {
				return nil, nil
			}
			return &rec, &t
		}
	}
	return nil, nil
}

func init() {
	taskAddCmd.Flags().StringVarP(&taskProject, "project", "p", "", "project ID (required)")
	taskAddCmd.Flags().StringVar(&taskPriority, "priority", "medium", "low, medium, or high")
	taskAddCmd.Flags().StringVar(&taskAssignee, "assignee", "", "assignee user ID")
	taskAddCmd.Flags().StringVar(&taskDue, "due", "", "due date (YYYY-MM-DD)")
	taskUpdateCmd.Flags().StringVar(&taskStatus, "status", "", "todo, in-progress, or completed")
	taskListCmd.Flags().StringVarP(&taskProject, "project", "p", "", "filter by project ID")

	taskCmd.AddCommand(taskAddCmd)
	taskCmd.AddCommand(taskUpdateCmd)
	taskCmd.AddCommand(taskRmCmd)
	taskCmd.AddCommand(taskListCmd)
	rootCmd.AddCommand(taskCmd)
}
