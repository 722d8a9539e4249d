package domain

import (
	"encoding/json"
	"time"
)

// Project is the shared document one room revolves around. Messages are
// append-only; the file tree is replaced wholesale by edits or by
// AI-generated output.
type Project struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	MemberIDs   []string        `json:"member_ids"`
	FileTree    json.RawMessage `json:"file_tree,omitempty"`
	ContainerID string          `json:"-"`
	LastRunAt   time.Time       `json:"-"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// HasMember reports whether the given user id is a collaborator.
func (p *Project) HasMember(userID string) bool {
	for _, id := range p.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// HasWorkspace returns true if the project has a bound runtime container.
func (p *Project) HasWorkspace() bool {
	return p.ContainerID != ""
}
