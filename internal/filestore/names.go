package filestore

import (
	"errors"
	"path/filepath"
	"strings"
	"unicode"

	"userprofile/internal/common"
)

const profilePictureSuffix = "_profile.jpg"

var (
	imageExtensions    = map[string]struct{}{".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}}
	documentExtensions = map[string]struct{}{".doc": {}, ".docx": {}, ".pdf": {}}

	errInvalidUserID = errors.New("invalid user id")
)

// ProfilePictureName is the fixed file name of a user's picture.
func ProfilePictureName(userID string) string {
	return userID + profilePictureSuffix
}

func IsImageName(name string) bool {
	_, ok := imageExtensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

func IsDocumentName(name string) bool {
	_, ok := documentExtensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

// SanitizeFileName reduces a client supplied name to a safe base name.
// Separators of either style and "." / ".." segments are dropped and the last
// remaining segment is kept; leading dots and control characters are removed.
func SanitizeFileName(name string) (string, error) {
	segments := strings.FieldsFunc(name, func(r rune) bool { return r == '/' || r == '\\' })
	base := ""
	for i := len(segments) - 1; i >= 0; i-- {
		seg := strings.TrimSpace(segments[i])
		if seg == "" || seg == "." || seg == ".." {
			continue
		}
		base = seg
		break
	}
	base = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, base)
	base = strings.TrimSpace(strings.TrimLeft(base, "."))
	if base == "" {
		return "", common.NewValidationError(common.CodeInvalidFileName, "The file name is not valid.")
	}
	return base, nil
}

func validateUserID(userID string) error {
	if userID == "" || userID == "." || userID == ".." || strings.ContainsAny(userID, `/\`+"\x00") {
		return errInvalidUserID
	}
	return nil
}
