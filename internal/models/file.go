package models

import "time"

// UserFile describes a stored upload. It is derived from the file area, never persisted.
type UserFile struct {
	FileName         string    `json:"file_name"`
	FilePath         string    `json:"-"`
	Size             int64     `json:"size"`
	ModifiedAt       time.Time `json:"modified_at"`
	IsProfilePicture bool      `json:"is_profile_picture"`
}
