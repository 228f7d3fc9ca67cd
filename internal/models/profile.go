package models

import "time"

// UserProfile holds the editable personal details of a user. One per user.
type UserProfile struct {
	UserID      string    `json:"user_id"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	Address     string    `json:"address"`
	PhoneNumber string    `json:"phone_number"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ProfileView is what the profile page renders.
type ProfileView struct {
	UserID            string     `json:"user_id"`
	FirstName         string     `json:"first_name"`
	LastName          string     `json:"last_name"`
	Address           string     `json:"address"`
	PhoneNumber       string     `json:"phone_number"`
	ProfilePictureURL string     `json:"profile_picture_url"`
	Files             []UserFile `json:"files"`
}
