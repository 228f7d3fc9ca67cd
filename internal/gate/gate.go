// Package gate tracks, per login session, whether enough files were uploaded
// before the profile may be saved.
package gate

import (
	"context"
	"errors"
	"fmt"

	"userprofile/internal/config"
)

// Kind is the category of a qualifying upload.
type Kind string

const (
	KindPicture  Kind = "picture"
	KindDocument Kind = "document"
)

var ErrNoSession = errors.New("gate: session id required")

// Policy decides when a session's uploads satisfy the gate.
type Policy struct {
	Threshold       int
	RequirePicture  bool
	RequireDocument bool
}

// DefaultPolicy admits a save after any two qualifying uploads.
func DefaultPolicy() Policy {
	return Policy{Threshold: config.DefaultGateThreshold}
}

func PolicyFromConfig(cfg config.GateConfig) Policy {
	p := Policy{Threshold: cfg.Threshold, RequirePicture: cfg.RequirePicture, RequireDocument: cfg.RequireDocument}
	if p.Threshold <= 0 {
		p.Threshold = config.DefaultGateThreshold
	}
	return p
}

// Progress is a snapshot of a session's uploads.
type Progress struct {
	Pictures  int  `json:"pictures"`
	Documents int  `json:"documents"`
	Threshold int  `json:"threshold"`
	Satisfied bool `json:"satisfied"`
}

func (p Policy) Evaluate(pictures, documents int) Progress {
	satisfied := pictures+documents >= p.Threshold &&
		(!p.RequirePicture || pictures > 0) &&
		(!p.RequireDocument || documents > 0)
	return Progress{Pictures: pictures, Documents: documents, Threshold: p.Threshold, Satisfied: satisfied}
}

// Gate counts uploads per session. Counts only move forward until Reset.
type Gate interface {
	RecordUpload(ctx context.Context, sessionID string, kind Kind) error
	IsSatisfied(ctx context.Context, sessionID string) (bool, error)
	Progress(ctx context.Context, sessionID string) (Progress, error)
	Reset(ctx context.Context, sessionID string) error
}

func validKind(kind Kind) error {
	switch kind {
	case KindPicture, KindDocument:
		return nil
	default:
		return fmt.Errorf("gate: unknown upload kind %q", kind)
	}
}
