package sandbox

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
)

// gzipLevel is the compression level used for workspace tarballs.
const gzipLevel = 6

// ChunkThresholdBytes is the archive size past which UploadWorkspace splits
// into numbered parts instead of a single-shot upload.
const ChunkThresholdBytes = 50 * 1024 * 1024

// buildTarball walks root, skipping anything excl flags, and writes a
// gzip-compressed tar stream to w. Returns the file count and total
// uncompressed byte count written.
func buildTarball(root string, excl *ExclusionSet, w io.Writer, log *slog.Logger) (fileCount int, totalBytes int64, err error) {
	gz, err := gzip.NewWriterLevel(w, gzipLevel)
	if err != nil {
		return 0, 0, fmt.Errorf("gzip writer: %w", err)
	}
	tw := tar.NewWriter(gz)

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		if excl.Excluded(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		info, statErr := d.Info()
		if statErr != nil {
			return statErr
		}
		hdr, hdrErr := tar.FileInfoHeader(info, "")
		if hdrErr != nil {
			return hdrErr
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}

		f, openErr := os.Open(path)
		if openErr != nil {
			return openErr
		}
		n, copyErr := io.Copy(tw, f)
		f.Close()
		if copyErr != nil {
			return copyErr
		}

		fileCount++
		totalBytes += n
		return nil
	})
	if walkErr != nil {
		tw.Close()
		gz.Close()
		return 0, 0, fmt.Errorf("walk workspace: %w", walkErr)
	}

	if err := tw.Close(); err != nil {
		return 0, 0, fmt.Errorf("close tar writer: %w", err)
	}
	if err := gz.Close(); err != nil {
		return 0, 0, fmt.Errorf("close gzip writer: %w", err)
	}

	if log != nil {
		log.Info("built workspace tarball", "files", fileCount, "bytes", humanize.Bytes(uint64(totalBytes)))
	}
	return fileCount, totalBytes, nil
}

// extractTarball extracts a gzip-compressed tar stream into destRoot,
// creating parent directories as needed. DownloadChanges uses it to unpack
// the downloaded archive.
func extractTarball(r io.Reader, destRoot string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("gzip reader: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar entry: %w", err)
		}

		target := filepath.Join(destRoot, filepath.FromSlash(hdr.Name))
		if !withinRoot(destRoot, target) {
			return fmt.Errorf("tar entry %q escapes destination root", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			f.Close()
		}
	}
}

func withinRoot(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	return rel != ".." && !strings.HasPrefix(rel, "../") && !filepath.IsAbs(rel)
}
