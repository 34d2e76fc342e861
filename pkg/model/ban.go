package model

import "time"

// Ban represents a banned display name.
type Ban struct {
	Name      string    `json:"name" yaml:"name"`
	Reason    string    `json:"reason,omitempty" yaml:"reason,omitempty"`
	BannedBy  string    `json:"banned_by,omitempty" yaml:"banned_by,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}
