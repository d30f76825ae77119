package engine

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/cavaliercoder/go-cpio"
	"github.com/klauspost/pgzip"
	"github.com/orcaman/writerseeker"
	"golang.org/x/xerrors"
)

// logDir is the directory persisted build logs are written under; set via
// SetLogDir by the CLI (typically next to the cache file). Logging is a
// no-op if never set, e.g. in tests.
var logDir string

// SetLogDir configures where per-target build logs are persisted.
func SetLogDir(dir string) { logDir = dir }

func logPath(t *Target) string {
	return filepath.Join(logDir, sanitizeLogName(t.CacheKey())+".log.gz")
}

func sanitizeLogName(name string) string {
	return strings.NewReplacer("/", "_", " ", "_").Replace(name)
}

// persistLog gzip-compresses and writes out as the build log for t,
// supplementing spec.md (not present in the distillation) with the "logs"
// request grounded on cmd/distri/log.go.
func persistLog(t *Target, out []byte) {
	if logDir == "" {
		return
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return
	}
	f, err := os.Create(logPath(t))
	if err != nil {
		return
	}
	defer f.Close()
	gz := pgzip.NewWriter(f)
	defer gz.Close()
	if gb, ok := t.Action.(GoBuildAction); ok {
		if mv := gb.Spec.ModuleVersion(); mv != "" {
			gz.Write([]byte("# module: " + mv + "\n"))
		}
	}
	gz.Write(out)
}

// ReadLog returns the decompressed persisted build log for t, or an error
// if none is recorded.
func ReadLog(t *Target) ([]byte, error) {
	f, err := os.Open(logPath(t))
	if err != nil {
		return nil, xerrors.Errorf("no persisted log for %s: %w", t.Name, err)
	}
	defer f.Close()
	gz, err := pgzip.NewReader(f)
	if err != nil {
		return nil, xerrors.Errorf("decompressing log for %s: %w", t.Name, err)
	}
	defer gz.Close()
	return io.ReadAll(gz)
}

// ArchiveLogs bundles every persisted build log under logDir into a single
// cpio archive written to w, grounded on cmd/distri/initrd.go's cpio/pgzip
// initramfs-image construction, adapted from bundling kernel modules to
// bundling persisted log files.
func ArchiveLogs(w io.Writer) error {
	if logDir == "" {
		return xerrors.Errorf("no log directory configured: %w", ErrUserInput)
	}
	var buf writerseeker.WriterSeeker
	cw := cpio.NewWriter(&buf)

	err := filepath.WalkDir(logDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(logDir, path)
		if err != nil {
			return err
		}
		if err := cw.WriteHeader(&cpio.Header{
			Name:    rel,
			Size:    info.Size(),
			Mode:    0o644,
			ModTime: info.ModTime(),
		}); err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		_, err = cw.Write(data)
		return err
	})
	if err != nil {
		return xerrors.Errorf("archiving logs: %w", err)
	}
	if err := cw.Close(); err != nil {
		return xerrors.Errorf("closing cpio archive: %w", err)
	}

	r := buf.Reader()
	_, err = io.Copy(w, r)
	return err
}
