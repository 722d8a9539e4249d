package runtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/codehive/codehive/internal/store"
)

const reapInterval = 5 * time.Minute

// StartReaper launches a background worker that stops workspace
// containers whose projects have been idle longer than ttl.
func StartReaper(ctx context.Context, repo store.Repository, mgr Manager, ttl time.Duration) {
	go func() {
		ticker := time.NewTicker(reapInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				reapIdle(ctx, repo, mgr, ttl)
			}
		}
	}()
}

func reapIdle(ctx context.Context, repo store.Repository, mgr Manager, ttl time.Duration) {
	projects, err := repo.GetIdleWorkspaces(ctx, ttl)
	if err != nil {
		slog.Error("Failed to query idle workspaces", "error", err)
		return
	}

	for _, project := range projects {
		slog.Info("Reaping idle workspace", "project_id", project.ID, "container_id", project.ContainerID)

		if err := mgr.StopWorkspace(ctx, project.ContainerID); err != nil {
			slog.Warn("Failed to stop idle workspace", "error", err, "container_id", project.ContainerID)
			continue
		}

		// Optimistic: only clear the binding if nobody rebound it meanwhile.
		if err := repo.UpdateContainerID(ctx, project.ID, "", project.ContainerID); err != nil {
			slog.Warn("Failed to clear workspace binding", "error", err, "project_id", project.ID)
		}
	}
}
