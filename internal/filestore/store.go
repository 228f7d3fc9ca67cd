package filestore

import (
	"context"
	"errors"
	"io"
	"net/url"
	"sort"

	"userprofile/internal/common"
	"userprofile/internal/models"
)

// PublicPrefix is the URL path under which stored files are served to their owner.
const PublicPrefix = "/uploads"

// Store enforces naming and type rules on top of a Backend.
type Store struct {
	backend           Backend
	defaultPictureURL string
}

func NewStore(backend Backend, defaultPictureURL string) *Store {
	return &Store{backend: backend, defaultPictureURL: defaultPictureURL}
}

func (s *Store) EnsureUserDirectory(ctx context.Context, userID string) error {
	if err := validateUserID(userID); err != nil {
		return err
	}
	return s.backend.EnsurePrefix(ctx, userID)
}

// SaveProfilePicture stores the picture under the fixed name, replacing any
// previous one, and returns its URL.
func (s *Store) SaveProfilePicture(ctx context.Context, userID string, r io.Reader, declaredName string) (string, error) {
	if err := validateUserID(userID); err != nil {
		return "", err
	}
	if !IsImageName(declaredName) {
		return "", common.NewValidationError(common.CodeUnsupportedImageType,
			"Only image files (JPG, PNG, GIF) are allowed.")
	}
	if _, err := s.backend.Put(ctx, userID, ProfilePictureName(userID), r); err != nil {
		return "", err
	}
	return pictureURL(userID), nil
}

func (s *Store) SaveDocument(ctx context.Context, userID string, r io.Reader, declaredName string) (models.UserFile, error) {
	if err := validateUserID(userID); err != nil {
		return models.UserFile{}, err
	}
	name, err := SanitizeFileName(declaredName)
	if err != nil {
		return models.UserFile{}, err
	}
	if !IsDocumentName(name) {
		return models.UserFile{}, common.NewValidationError(common.CodeUnsupportedDocumentType,
			"Only document files (DOCX, DOC, PDF) are allowed.")
	}
	if name == ProfilePictureName(userID) {
		return models.UserFile{}, common.NewValidationError(common.CodeInvalidFileName, "The file name is reserved.")
	}
	obj, err := s.backend.Put(ctx, userID, name, r)
	if err != nil {
		return models.UserFile{}, err
	}
	return toUserFile(userID, obj), nil
}

// ListFiles returns the user's files sorted by name.
func (s *Store) ListFiles(ctx context.Context, userID string) ([]models.UserFile, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	objects, err := s.backend.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	files := make([]models.UserFile, 0, len(objects))
	for _, obj := range objects {
		files = append(files, toUserFile(userID, obj))
	}
	sort.Slice(files, func(i, j int) bool { return files[i].FileName < files[j].FileName })
	return files, nil
}

func (s *Store) ReadFile(ctx context.Context, userID, name string) ([]byte, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	clean, err := SanitizeFileName(name)
	if err != nil {
		return nil, common.ErrNotFound
	}
	return s.backend.Get(ctx, userID, clean)
}

func (s *Store) DeleteFile(ctx context.Context, userID, name string) error {
	if err := validateUserID(userID); err != nil {
		return err
	}
	clean, err := SanitizeFileName(name)
	if err != nil {
		return nil
	}
	return s.backend.Delete(ctx, userID, clean)
}

// DeleteAll drops the whole file area of a user.
func (s *Store) DeleteAll(ctx context.Context, userID string) error {
	if err := validateUserID(userID); err != nil {
		return err
	}
	return s.backend.DeletePrefix(ctx, userID)
}

// ProfilePictureURL returns the user's picture URL or the default when none
// is stored or the lookup fails.
func (s *Store) ProfilePictureURL(ctx context.Context, userID string) string {
	if validateUserID(userID) != nil {
		return s.defaultPictureURL
	}
	ok, err := s.backend.Exists(ctx, userID, ProfilePictureName(userID))
	if err != nil || !ok {
		return s.defaultPictureURL
	}
	return pictureURL(userID)
}

func pictureURL(userID string) string {
	escaped := url.PathEscape(userID)
	return PublicPrefix + "/" + escaped + "/" + url.PathEscape(ProfilePictureName(userID))
}

func toUserFile(userID string, obj Object) models.UserFile {
	return models.UserFile{
		FileName:         obj.Name,
		FilePath:         obj.Location,
		Size:             obj.Size,
		ModifiedAt:       obj.ModifiedAt,
		IsProfilePicture: obj.Name == ProfilePictureName(userID),
	}
}

// IsInvalidUser reports whether err came from a malformed user id.
func IsInvalidUser(err error) bool {
	return errors.Is(err, errInvalidUserID)
}
