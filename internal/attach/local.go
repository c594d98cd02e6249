package attach

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"voicescribe/internal/common"
)

// LocalSource reads attachments stored on the local filesystem under
// baseDir/attachments/<user>/<ref>.
type LocalSource struct {
	baseDir string
}

// NewLocalSource creates a source rooted at baseDir/attachments.
func NewLocalSource(baseDir string) *LocalSource {
	return &LocalSource{baseDir: filepath.Join(baseDir, common.AttachmentsDirName)}
}

var _ Source = (*LocalSource)(nil)

// FetchBytes reads the file for the stored reference.
func (s *LocalSource) FetchBytes(ctx context.Context, userID, documentID, storedRef string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := filepath.Join(s.baseDir, filepath.Base(userID), filepath.Base(storedRef))
	data, err := os.ReadFile(path) // #nosec G304 - path components are sanitized with filepath.Base
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, storedRef)
		}
		return nil, fmt.Errorf("read attachment %s: %w", storedRef, err)
	}
	return data, nil
}
