package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/banshee-data/shootpoints/internal/monitoring"
	"github.com/banshee-data/shootpoints/internal/surveyerr"
)

var logf = monitoring.Component("export")

// SanitizeFilename keeps ASCII letters, digits, dot, underscore and dash,
// collapsing every other run of characters into one underscore. The result
// is at most 64 bytes and never empty.
func SanitizeFilename(s string) string {
	const maxLen = 64
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
			lastUnderscore = r == '_'
		default:
			if !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}

// DefaultFilename names the GeoJSON file for a session.
func DefaultFilename(sessionID int64, label string) string {
	if label = strings.TrimSpace(label); label == "" {
		return fmt.Sprintf("session-%d.geojson", sessionID)
	}
	return fmt.Sprintf("session-%d-%s.geojson", sessionID, SanitizeFilename(label))
}

// ValidateOutputPath rejects a path that resolves outside dir, following
// symlinks on the way. The file itself need not exist yet.
func ValidateOutputPath(path, dir string) error {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return surveyerr.NewValidation("resolve %q: %v", path, err)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return surveyerr.NewValidation("resolve %q: %v", dir, err)
	}
	canonicalDir, err := filepath.EvalSymlinks(absDir)
	if err != nil {
		return surveyerr.NewValidation("output directory %q: %v", dir, err)
	}

	// Resolve the deepest existing ancestor so a symlinked parent cannot
	// redirect the write.
	canonical := abs
	for check := abs; ; {
		if resolved, err := filepath.EvalSymlinks(check); err == nil {
			rest, _ := filepath.Rel(check, abs)
			canonical = filepath.Join(resolved, rest)
			break
		}
		parent := filepath.Dir(check)
		if parent == check {
			break
		}
		check = parent
	}

	rel, err := filepath.Rel(canonicalDir, canonical)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return surveyerr.NewValidation("%s is outside %s", path, dir)
	}
	return nil
}

// WriteFile exports a session to path, which must lie within dir. An
// empty path writes DefaultFilename into dir. It returns the path written.
func WriteFile(ctx context.Context, src Source, sessionID int64, path, dir string) (string, error) {
	sess, err := src.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if path == "" {
		path = filepath.Join(dir, DefaultFilename(sessionID, sess.Label))
	}
	if err := ValidateOutputPath(path, dir); err != nil {
		return "", err
	}

	fc, err := SessionGeoJSON(ctx, src, sessionID)
	if err != nil {
		return "", err
	}
	data, err := fc.MarshalJSON()
	if err != nil {
		return "", surveyerr.NewInternal(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", surveyerr.NewInternal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", surveyerr.NewInternal(err)
	}
	logf("wrote session %d to %s", sessionID, path)
	return path, nil
}
