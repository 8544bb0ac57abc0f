//go:build integration

package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"agent-workflow-engine/internal/domain"
	"agent-workflow-engine/internal/domain/model"
	"agent-workflow-engine/internal/domain/ports/repository"
)

func testJobInput() model.JobInput {
	return model.JobInput{
		Workflow: model.Workflow{
			Name:  "wf",
			Steps: []model.WorkflowStep{{Kind: model.StepAgent, Agent: &model.AgentStep{Name: "a"}}},
		},
		Messages: []model.Message{{Role: model.RoleUser, Content: "go"}},
	}
}

func TestJobRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}

	ctx := context.Background()
	tm := NewTxManager(testPool)
	repo := NewJobRepo(testPool, tm)

	t.Run("should create and read back a job", func(t *testing.T) {
		cleanup(t)

		job := model.NewJob("proj-1", model.JobReason{Type: model.JobReasonScheduledJobRule, RuleID: "rule-1"}, testJobInput())
		if err := repo.Create(ctx, nil, job); err != nil {
			t.Fatalf("create: %v", err)
		}

		got, err := repo.Get(ctx, nil, job.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Status != model.JobStatusPending || got.WorkerID != "" {
			t.Errorf("fresh job = status %s, worker %q", got.Status, got.WorkerID)
		}
		if got.Reason.Type != model.JobReasonScheduledJobRule || got.Reason.RuleID != "rule-1" {
			t.Errorf("reason = %+v", got.Reason)
		}
	})

	t.Run("poll should claim the oldest pending job once", func(t *testing.T) {
		cleanup(t)

		job := model.NewJob("proj-1", model.JobReason{Type: model.JobReasonRecurringJobRule}, testJobInput())
		if err := repo.Create(ctx, nil, job); err != nil {
			t.Fatalf("create: %v", err)
		}

		claimed, err := repo.Poll(ctx, "w1")
		if err != nil {
			t.Fatalf("poll: %v", err)
		}
		if claimed.ID != job.ID || claimed.Status != model.JobStatusRunning || claimed.WorkerID != "w1" {
			t.Errorf("claimed = %+v", claimed)
		}
		if _, err := repo.Poll(ctx, "w2"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("second poll err = %v, want ErrNotFound", err)
		}
	})

	t.Run("concurrent polls should not double-claim", func(t *testing.T) {
		cleanup(t)

		const jobs = 4
		for i := 0; i < jobs; i++ {
			if err := repo.Create(ctx, nil, model.NewJob("proj-1", model.JobReason{Type: model.JobReasonScheduledJobRule}, testJobInput())); err != nil {
				t.Fatalf("create %d: %v", i, err)
			}
		}

		var mu sync.Mutex
		seen := make(map[string]bool)
		var wg sync.WaitGroup
		for i := 0; i < jobs*2; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				job, err := repo.Poll(ctx, fmt.Sprintf("w%d", n))
				if err != nil {
					return
				}
				mu.Lock()
				if seen[job.ID] {
					t.Errorf("job %s claimed twice", job.ID)
				}
				seen[job.ID] = true
				mu.Unlock()
			}(i)
		}
		wg.Wait()

		if len(seen) != jobs {
			t.Errorf("claimed %d distinct jobs, want %d", len(seen), jobs)
		}
	})

	t.Run("terminal update should clear the lock and store output", func(t *testing.T) {
		cleanup(t)

		job := model.NewJob("proj-1", model.JobReason{Type: model.JobReasonScheduledJobRule}, testJobInput())
		if err := repo.Create(ctx, nil, job); err != nil {
			t.Fatalf("create: %v", err)
		}
		if _, err := repo.Poll(ctx, "w1"); err != nil {
			t.Fatalf("poll: %v", err)
		}

		status := model.JobStatusCompleted
		final, err := repo.Update(ctx, job.ID, repository.UpdateJob{
			Status: &status,
			Output: &model.JobOutput{TurnID: "turn-1"},
		})
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		if final.Status != model.JobStatusCompleted || final.WorkerID != "" {
			t.Errorf("final = status %s, worker %q", final.Status, final.WorkerID)
		}
		if final.Output == nil || final.Output.TurnID != "turn-1" {
			t.Errorf("output = %+v", final.Output)
		}
		if final.LastWorkerID != "w1" {
			t.Errorf("last worker = %q, want w1", final.LastWorkerID)
		}
	})

	t.Run("release should requeue a claimed job", func(t *testing.T) {
		cleanup(t)

		job := model.NewJob("proj-1", model.JobReason{Type: model.JobReasonScheduledJobRule}, testJobInput())
		if err := repo.Create(ctx, nil, job); err != nil {
			t.Fatalf("create: %v", err)
		}
		if _, err := repo.Poll(ctx, "w1"); err != nil {
			t.Fatalf("poll: %v", err)
		}

		released, err := repo.Release(ctx, job.ID)
		if err != nil {
			t.Fatalf("release: %v", err)
		}
		if !released {
			t.Error("release reported no lock held")
		}
		if _, err := repo.Poll(ctx, "w2"); err != nil {
			t.Errorf("poll after release: %v", err)
		}
	})
}
