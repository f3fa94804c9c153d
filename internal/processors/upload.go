package processors

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"

	"easel/internal/config"
	"easel/internal/jobs"
	"easel/internal/logging"
	"easel/internal/services"
)

// Upload moves a staged image into the library. Rename is attempted first;
// staging and library commonly live on different filesystems, so EXDEV falls
// back to copy-then-remove.
type Upload struct {
	logger     *slog.Logger
	libraryDir string
}

// NewUpload constructs the upload processor.
func NewUpload(cfg *config.Config, logger *slog.Logger) *Upload {
	return &Upload{
		logger:     logging.NewComponentLogger(logger, "upload"),
		libraryDir: cfg.Paths.LibraryDir,
	}
}

// Process moves the staged file recorded by the previous step into the library.
func (u *Upload) Process(ctx context.Context, job *jobs.Job) (jobs.Payload, error) {
	result, err := decodeObject("upload", "result", job.Result)
	if err != nil {
		return nil, err
	}
	stagingPath := stringField(result, "staging_path")
	if stagingPath == "" {
		return nil, services.Wrap(services.ErrUnrecoverable, "upload", "move", "no staging_path in result", nil)
	}
	if _, err := os.Stat(stagingPath); err != nil {
		return nil, services.Wrap(services.ErrUnrecoverable, "upload", "move", "staged file missing", err)
	}
	if u.libraryDir == "" {
		return nil, services.Wrap(services.ErrConfiguration, "upload", "move", "library directory not configured", nil)
	}

	libraryPath := filepath.Join(u.libraryDir, job.UUID+filepath.Ext(stagingPath))
	if err := os.MkdirAll(filepath.Dir(libraryPath), 0o755); err != nil {
		return nil, services.Wrap(services.ErrTransient, "upload", "move", "create library directory", err)
	}
	if err := moveFile(stagingPath, libraryPath); err != nil {
		return nil, services.Wrap(services.ErrTransient, "upload", "move", "move into library", err)
	}
	// Best effort; the per-job staging directory is empty after the move.
	_ = os.Remove(filepath.Dir(stagingPath))

	u.logger.Info("image filed",
		logging.String(logging.FieldJobUUID, job.UUID),
		logging.String("library_path", libraryPath))

	return jobs.Payload{"library_path": libraryPath}, nil
}

func moveFile(source, dest string) error {
	err := os.Rename(source, dest)
	if err == nil {
		return nil
	}
	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) || !errors.Is(linkErr.Err, syscall.EXDEV) {
		return err
	}
	if err := copyFileContents(source, dest); err != nil {
		return err
	}
	return os.Remove(source)
}

func copyFileContents(source, dest string) error {
	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(dest)
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		_ = os.Remove(dest)
		return err
	}
	return out.Close()
}
