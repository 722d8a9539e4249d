package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/codehive/codehive/internal/auth"
	"github.com/codehive/codehive/internal/domain"
	"github.com/codehive/codehive/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// RegisterProjectRoutes mounts the project endpoints. All of them
// require authentication.
func (h *Handler) RegisterProjectRoutes(r chi.Router, authed func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		r.Use(authed)
		r.Post("/projects/create", h.createProject)
		r.Get("/projects/all", h.listProjects)
		r.Put("/projects/add-user", h.addProjectUser)
		r.Get("/projects/get-project/{projectID}", h.getProject)
		r.Put("/projects/update-file-tree", h.updateFileTree)
		r.Post("/projects/{projectID}/run", h.runProject)
	})
}

// loadMemberProject resolves a project and enforces that the current
// user is a collaborator. Writes the error response itself on failure.
func (h *Handler) loadMemberProject(w http.ResponseWriter, r *http.Request, projectID string) (*domain.Project, *domain.User) {
	user := auth.UserFromContext(r.Context())
	if user == nil {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return nil, nil
	}

	if _, err := uuid.Parse(projectID); err != nil {
		Error(w, http.StatusBadRequest, "invalid projectId")
		return nil, nil
	}

	project, err := h.repo.GetProject(r.Context(), projectID)
	if errors.Is(err, store.ErrNotFound) {
		Error(w, http.StatusNotFound, "project not found")
		return nil, nil
	}
	if err != nil {
		slog.Error("Failed to load project", "error", err, "project_id", projectID)
		Error(w, http.StatusInternalServerError, "failed to load project")
		return nil, nil
	}

	if !project.HasMember(user.ID) {
		Error(w, http.StatusForbidden, "not a project member")
		return nil, nil
	}
	return project, user
}

func (h *Handler) createProject(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	if user == nil {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := decode(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		Error(w, http.StatusBadRequest, "project name is required")
		return
	}

	now := time.Now()
	project := &domain.Project{
		ID:        uuid.NewString(),
		Name:      req.Name,
		MemberIDs: []string{user.ID},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.repo.CreateProject(r.Context(), project); err != nil {
		slog.Error("Failed to create project", "error", err)
		Error(w, http.StatusInternalServerError, "failed to create project")
		return
	}

	JSON(w, http.StatusCreated, map[string]*domain.Project{"project": project})
}

func (h *Handler) listProjects(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	if user == nil {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	projects, err := h.repo.ListProjectsForUser(r.Context(), user.ID)
	if err != nil {
		slog.Error("Failed to list projects", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list projects")
		return
	}
	JSON(w, http.StatusOK, map[string][]*domain.Project{"projects": projects})
}

func (h *Handler) addProjectUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectID string   `json:"projectId"`
		Users     []string `json:"users"`
	}
	if err := decode(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	project, _ := h.loadMemberProject(w, r, req.ProjectID)
	if project == nil {
		return
	}

	for _, userID := range req.Users {
		if _, err := h.repo.GetUserByID(r.Context(), userID); errors.Is(err, store.ErrNotFound) {
			Error(w, http.StatusBadRequest, "unknown user: "+userID)
			return
		} else if err != nil {
			slog.Error("Failed to resolve collaborator", "error", err, "user_id", userID)
			Error(w, http.StatusInternalServerError, "failed to add collaborators")
			return
		}
		if err := h.repo.AddProjectMember(r.Context(), project.ID, userID); err != nil {
			slog.Error("Failed to add collaborator", "error", err, "user_id", userID)
			Error(w, http.StatusInternalServerError, "failed to add collaborators")
			return
		}
	}

	updated, err := h.repo.GetProject(r.Context(), project.ID)
	if err != nil {
		slog.Error("Failed to reload project", "error", err, "project_id", project.ID)
		Error(w, http.StatusInternalServerError, "failed to add collaborators")
		return
	}
	JSON(w, http.StatusOK, map[string]*domain.Project{"project": updated})
}

func (h *Handler) getProject(w http.ResponseWriter, r *http.Request) {
	project, _ := h.loadMemberProject(w, r, chi.URLParam(r, "projectID"))
	if project == nil {
		return
	}

	messages, err := h.repo.ListMessages(r.Context(), project.ID, 0)
	if err != nil {
		slog.Error("Failed to list messages", "error", err, "project_id", project.ID)
		Error(w, http.StatusInternalServerError, "failed to load project")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"project":  project,
		"messages": messages,
	})
}

func (h *Handler) updateFileTree(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectID string          `json:"projectId"`
		FileTree  json.RawMessage `json:"fileTree"`
	}
	if err := decode(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.FileTree) == 0 {
		Error(w, http.StatusBadRequest, "fileTree is required")
		return
	}

	project, _ := h.loadMemberProject(w, r, req.ProjectID)
	if project == nil {
		return
	}

	if err := h.repo.UpdateFileTree(r.Context(), project.ID, req.FileTree); err != nil {
		slog.Error("Failed to update file tree", "error", err, "project_id", project.ID)
		Error(w, http.StatusInternalServerError, "failed to update file tree")
		return
	}

	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// runProject mounts the project's stored file tree into its workspace
// container, runs the build command, and launches the start command.
func (h *Handler) runProject(w http.ResponseWriter, r *http.Request) {
	if h.mgr == nil {
		Error(w, http.StatusServiceUnavailable, "workspace runtime is disabled")
		return
	}

	project, _ := h.loadMemberProject(w, r, chi.URLParam(r, "projectID"))
	if project == nil {
		return
	}
	if len(project.FileTree) == 0 {
		Error(w, http.StatusBadRequest, "project has no file tree to run")
		return
	}

	var tree domain.FileTree
	if err := json.Unmarshal(project.FileTree, &tree); err != nil {
		Error(w, http.StatusUnprocessableEntity, "stored file tree is not mountable")
		return
	}

	var req struct {
		BuildCommand *domain.Command `json:"buildCommand"`
		StartCommand *domain.Command `json:"startCommand"`
	}
	if err := decode(r, &req); err != nil && !errors.Is(err, io.EOF) {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.BuildCommand == nil {
		req.BuildCommand = &domain.Command{MainItem: "npm", Commands: []string{"install"}}
	}
	if req.StartCommand == nil {
		req.StartCommand = &domain.Command{MainItem: "npm", Commands: []string{"start"}}
	}

	containerID, err := h.mgr.EnsureWorkspace(r.Context(), project.ID, project.ContainerID)
	if err != nil {
		slog.Error("Failed to ensure workspace", "error", err, "project_id", project.ID)
		Error(w, http.StatusInternalServerError, "failed to start workspace")
		return
	}
	if containerID != project.ContainerID {
		if err := h.repo.UpdateContainerID(r.Context(), project.ID, containerID, ""); err != nil {
			slog.Warn("Failed to record workspace binding", "error", err, "project_id", project.ID)
		}
	}

	if err := h.mgr.MountFileTree(r.Context(), containerID, tree); err != nil {
		slog.Error("Failed to mount file tree", "error", err, "project_id", project.ID)
		Error(w, http.StatusInternalServerError, "failed to mount file tree")
		return
	}

	build, err := h.mgr.RunCommand(r.Context(), containerID, *req.BuildCommand)
	if err != nil {
		slog.Error("Build command failed to run", "error", err, "project_id", project.ID)
		Error(w, http.StatusInternalServerError, "build command failed")
		return
	}

	if build.ExitCode == 0 {
		if err := h.mgr.StartDetached(r.Context(), containerID, *req.StartCommand); err != nil {
			slog.Error("Start command failed to launch", "error", err, "project_id", project.ID)
			Error(w, http.StatusInternalServerError, "start command failed")
			return
		}
	}

	if err := h.repo.TouchLastRun(r.Context(), project.ID, time.Now()); err != nil {
		slog.Warn("Failed to record workspace activity", "error", err, "project_id", project.ID)
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"container_id": containerID,
		"build":        build,
		"started":      build.ExitCode == 0,
	})
}
