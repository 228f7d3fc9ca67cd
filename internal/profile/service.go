// Package profile implements the profile page: personal details plus the
// user's uploaded picture and documents.
package profile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"regexp"
	"unicode/utf8"

	"userprofile/internal/common"
	"userprofile/internal/filestore"
	"userprofile/internal/gate"
	"userprofile/internal/logging"
	"userprofile/internal/metrics"
	"userprofile/internal/models"
)

const (
	// MsgUploadFiles is shown when a save is attempted before enough uploads.
	MsgUploadFiles = "please upload the files"
	maxFieldLength = 256
)

var phonePattern = regexp.MustCompile(`^[0-9+()\-. ]*$`)

// Files is the per-user file area the service works on.
type Files interface {
	EnsureUserDirectory(ctx context.Context, userID string) error
	SaveProfilePicture(ctx context.Context, userID string, r io.Reader, declaredName string) (string, error)
	SaveDocument(ctx context.Context, userID string, r io.Reader, declaredName string) (models.UserFile, error)
	ListFiles(ctx context.Context, userID string) ([]models.UserFile, error)
	ReadFile(ctx context.Context, userID, name string) ([]byte, error)
	DeleteFile(ctx context.Context, userID, name string) error
	DeleteAll(ctx context.Context, userID string) error
	ProfilePictureURL(ctx context.Context, userID string) string
}

// Fields is the editable part of a profile as submitted by the client.
// UserID is ignored and replaced with the authenticated caller.
type Fields struct {
	UserID      string `json:"user_id"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Address     string `json:"address"`
	PhoneNumber string `json:"phone_number"`
}

// GateError is returned by Save when the session has not uploaded enough
// files. It carries the submitted fields back so the form can be re-rendered.
type GateError struct {
	Fields   Fields
	Message  string
	Progress gate.Progress
}

func (e *GateError) Error() string { return e.Message }

func (e *GateError) Unwrap() error { return common.ErrGateNotSatisfied }

type UploadResult struct {
	URL      string          `json:"url,omitempty"`
	File     models.UserFile `json:"file"`
	Progress gate.Progress   `json:"progress"`
}

type Download struct {
	FileName           string
	ContentType        string
	ContentDisposition string
	Data               []byte
}

type Service struct {
	repo   Repository
	files  Files
	gate   gate.Gate
	logger logging.Logger
}

func NewService(repo Repository, files Files, g gate.Gate, logger logging.Logger) *Service {
	return &Service{repo: repo, files: files, gate: g, logger: logger.With("component", "profile")}
}

// View assembles the profile page. A user without a saved profile gets empty fields.
func (s *Service) View(ctx context.Context, userID string) (*models.ProfileView, error) {
	p, found, err := s.repo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	files, err := s.files.ListFiles(ctx, userID)
	if err != nil {
		return nil, err
	}
	view := &models.ProfileView{
		UserID:            userID,
		ProfilePictureURL: s.files.ProfilePictureURL(ctx, userID),
		Files:             files,
	}
	if found {
		view.FirstName = p.FirstName
		view.LastName = p.LastName
		view.Address = p.Address
		view.PhoneNumber = p.PhoneNumber
	}
	return view, nil
}

// Save stores the caller's profile once the session's uploads satisfy the gate.
func (s *Service) Save(ctx context.Context, userID, sessionID string, in Fields) (*models.UserProfile, error) {
	in.UserID = userID
	if err := validateFields(in); err != nil {
		return nil, err
	}
	progress, err := s.gate.Progress(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("check uploads: %w", err)
	}
	if !progress.Satisfied {
		metrics.GateRejectionsTotal.Inc()
		s.logger.Info(ctx, "profile save blocked by upload gate", "user_id", userID,
			"pictures", progress.Pictures, "documents", progress.Documents)
		return nil, &GateError{Fields: in, Message: MsgUploadFiles, Progress: progress}
	}

	p := &models.UserProfile{
		UserID:      userID,
		FirstName:   in.FirstName,
		LastName:    in.LastName,
		Address:     in.Address,
		PhoneNumber: in.PhoneNumber,
	}
	if err := s.repo.Upsert(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "profile saved", "user_id", userID)
	return p, nil
}

func validateFields(f Fields) error {
	var msgs []string
	check := func(label, value string) {
		if utf8.RuneCountInString(value) > maxFieldLength {
			msgs = append(msgs, fmt.Sprintf("%s must be at most %d characters long.", label, maxFieldLength))
		}
	}
	check("First name", f.FirstName)
	check("Last name", f.LastName)
	check("Address", f.Address)
	check("Phone number", f.PhoneNumber)
	if !phonePattern.MatchString(f.PhoneNumber) {
		msgs = append(msgs, "Phone number may only contain digits, spaces and + ( ) - .")
	}
	if len(msgs) > 0 {
		return common.NewValidationError(common.CodeInvalidField, msgs...)
	}
	return nil
}

func (s *Service) UploadProfilePicture(ctx context.Context, userID, sessionID string, r io.Reader, declaredName string) (*UploadResult, error) {
	if r == nil || declaredName == "" {
		metrics.UploadsTotal.WithLabelValues(string(gate.KindPicture), "rejected").Inc()
		return nil, common.NewValidationError(common.CodeMissingFile, "Please select a profile picture to upload.")
	}
	if err := s.files.EnsureUserDirectory(ctx, userID); err != nil {
		return nil, err
	}
	url, err := s.files.SaveProfilePicture(ctx, userID, r, declaredName)
	if err != nil {
		s.countFailure(gate.KindPicture, err)
		return nil, err
	}
	progress, err := s.record(ctx, userID, sessionID, gate.KindPicture)
	if err != nil {
		return nil, err
	}
	return &UploadResult{
		URL:      url,
		File:     models.UserFile{FileName: filestore.ProfilePictureName(userID), IsProfilePicture: true},
		Progress: progress,
	}, nil
}

func (s *Service) UploadDocument(ctx context.Context, userID, sessionID string, r io.Reader, declaredName string) (*UploadResult, error) {
	if r == nil || declaredName == "" {
		metrics.UploadsTotal.WithLabelValues(string(gate.KindDocument), "rejected").Inc()
		return nil, common.NewValidationError(common.CodeMissingFile, "Please select a file to upload.")
	}
	if err := s.files.EnsureUserDirectory(ctx, userID); err != nil {
		return nil, err
	}
	file, err := s.files.SaveDocument(ctx, userID, r, declaredName)
	if err != nil {
		s.countFailure(gate.KindDocument, err)
		return nil, err
	}
	progress, err := s.record(ctx, userID, sessionID, gate.KindDocument)
	if err != nil {
		return nil, err
	}
	return &UploadResult{File: file, Progress: progress}, nil
}

func (s *Service) record(ctx context.Context, userID, sessionID string, kind gate.Kind) (gate.Progress, error) {
	metrics.UploadsTotal.WithLabelValues(string(kind), "stored").Inc()
	if err := s.gate.RecordUpload(ctx, sessionID, kind); err != nil {
		s.logger.Error(ctx, "record upload failed", "user_id", userID, "kind", kind, "error", err)
		return gate.Progress{}, fmt.Errorf("record upload: %w", err)
	}
	progress, err := s.gate.Progress(ctx, sessionID)
	if err != nil {
		return gate.Progress{}, fmt.Errorf("check uploads: %w", err)
	}
	s.logger.Info(ctx, "file uploaded", "user_id", userID, "kind", kind, "satisfied", progress.Satisfied)
	return progress, nil
}

func (s *Service) countFailure(kind gate.Kind, err error) {
	result := "failed"
	if errors.Is(err, common.ErrValidation) {
		result = "rejected"
	}
	metrics.UploadsTotal.WithLabelValues(string(kind), result).Inc()
}

// DownloadFile returns the file as an attachment.
// The returned name is the sanitized one the bytes were read from.
func (s *Service) DownloadFile(ctx context.Context, userID, name string) (*Download, error) {
	clean, err := filestore.SanitizeFileName(name)
	if err != nil {
		return nil, common.ErrNotFound
	}
	data, err := s.files.ReadFile(ctx, userID, clean)
	if err != nil {
		return nil, err
	}
	return &Download{
		FileName:           clean,
		ContentType:        "application/octet-stream",
		ContentDisposition: mime.FormatMediaType("attachment", map[string]string{"filename": clean}),
		Data:               data,
	}, nil
}

// DeleteFile removes one of the caller's files. Deleting a missing file succeeds.
func (s *Service) DeleteFile(ctx context.Context, userID, name string) error {
	if err := s.files.DeleteFile(ctx, userID, name); err != nil {
		return err
	}
	s.logger.Info(ctx, "file deleted", "user_id", userID, "file", name)
	return nil
}

// DeleteAllFiles removes the user's whole file area, on account deletion.
func (s *Service) DeleteAllFiles(ctx context.Context, userID string) error {
	if err := s.files.DeleteAll(ctx, userID); err != nil {
		return err
	}
	s.logger.Info(ctx, "file area removed", "user_id", userID)
	return nil
}

// ResetGate clears the upload counters of a session, on login and logout.
func (s *Service) ResetGate(ctx context.Context, sessionID string) error {
	return s.gate.Reset(ctx, sessionID)
}
