package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/verte-zerg/kickshield/internal/model"
)

// SessionLister reads the completed-session log.
type SessionLister interface {
	ListSessions(ctx context.Context, f model.HistoryFilter) ([]model.SessionRecord, error)
}

// Report contains precomputed data for history rendering.
type Report struct {
	Sessions []model.SessionRecord
	Summary  Summary
}

// BuildReport loads and prepares data for history rendering.
func BuildReport(ctx context.Context, st SessionLister, f model.HistoryFilter) (Report, error) {
	sessions, err := st.ListSessions(ctx, f)
	if err != nil {
		return Report{}, fmt.Errorf("failed to list sessions: %w", err)
	}
	return Report{Sessions: sessions, Summary: Summarize(sessions)}, nil
}

// Export formats.
const (
	FormatYAML = "yaml"
	FormatJSON = "json"
)

// Export writes sessions in the given machine-readable format.
func Export(w io.Writer, sessions []model.SessionRecord, format string) error {
	if sessions == nil {
		sessions = []model.SessionRecord{}
	}
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(sessions); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(sessions); err != nil {
			return fmt.Errorf("failed to encode json: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown export format %q (use yaml or json)", format)
	}
}
