package models

import "time"

// Project groups cards inside a sprint. A project belongs to exactly one sprint.
type Project struct {
	ID          string    `json:"id"`
	SprintID    string    `json:"sprint_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
