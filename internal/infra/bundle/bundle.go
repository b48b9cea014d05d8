// Package bundle writes and reads the gzip tarballs exchanged with the
// platform: the resources bundle attached to the applet and the output
// tarball produced by the job.
package bundle

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Entry maps a local directory onto a prefix inside the archive. An empty
// Prefix places the directory's content at the archive root.
type Entry struct {
	Source string
	Prefix string
}

// skipDirs are never bundled.
var skipDirs = map[string]bool{".git": true, "__pycache__": true}

// Create writes a gzip tarball of entries to dst and returns the number of
// files written. Missing source directories are skipped.
func Create(dst string, entries ...Entry) (int, error) {
	out, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("failed to create bundle %s: %w", dst, err)
	}

	gz, err := gzip.NewWriterLevel(out, gzip.BestCompression)
	if err != nil {
		out.Close()
		return 0, fmt.Errorf("failed to create gzip writer: %w", err)
	}
	tw := tar.NewWriter(gz)

	count := 0
	for _, e := range entries {
		n, err := addDirectory(tw, e)
		count += n
		if err != nil {
			tw.Close()
			gz.Close()
			out.Close()
			return count, err
		}
	}

	if err := tw.Close(); err != nil {
		gz.Close()
		out.Close()
		return count, fmt.Errorf("failed to finish tar stream: %w", err)
	}
	if err := gz.Close(); err != nil {
		out.Close()
		return count, fmt.Errorf("failed to finish gzip stream: %w", err)
	}
	return count, out.Close()
}

func addDirectory(tw *tar.Writer, e Entry) (int, error) {
	info, err := os.Stat(e.Source)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", e.Source, err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("%s is not a directory", e.Source)
	}

	prefix := strings.Trim(filepath.ToSlash(e.Prefix), "/")
	count := 0
	err = filepath.WalkDir(e.Source, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(e.Source, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if d.IsDir() && skipDirs[d.Name()] {
			return filepath.SkipDir
		}

		name := path.Join(prefix, filepath.ToSlash(rel))
		fi, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case d.IsDir():
			hdr, err := tar.FileInfoHeader(fi, "")
			if err != nil {
				return err
			}
			hdr.Name = name + "/"
			return tw.WriteHeader(hdr)
		case fi.Mode().IsRegular():
			if err := writeFile(tw, p, name, fi); err != nil {
				return err
			}
			count++
			return nil
		case fi.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(p)
			if err != nil {
				return err
			}
			hdr, err := tar.FileInfoHeader(fi, target)
			if err != nil {
				return err
			}
			hdr.Name = name
			return tw.WriteHeader(hdr)
		default:
			return nil
		}
	})
	if err != nil {
		return count, fmt.Errorf("failed to bundle %s: %w", e.Source, err)
	}
	return count, nil
}

func writeFile(tw *tar.Writer, src, name string, fi fs.FileInfo) error {
	hdr, err := tar.FileInfoHeader(fi, "")
	if err != nil {
		return err
	}
	hdr.Name = name
	hdr.Uname, hdr.Gname = "", ""
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}

	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(tw, f)
	return err
}

// Extract unpacks the gzip tarball src into destDir and returns the paths of
// the extracted files. Entries escaping destDir are rejected.
func Extract(src, destDir string) ([]string, error) {
	in, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("failed to open tarball %s: %w", src, err)
	}
	defer in.Close()

	gz, err := gzip.NewReader(in)
	if err != nil {
		return nil, fmt.Errorf("failed to read gzip stream %s: %w", src, err)
	}
	defer gz.Close()

	root, err := filepath.Abs(destDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", root, err)
	}

	var files []string
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return files, fmt.Errorf("failed to read tarball %s: %w", src, err)
		}

		target, err := safeJoin(root, hdr.Name)
		if err != nil {
			return files, err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return files, err
			}
		case tar.TypeReg:
			if err := extractFile(tr, target, hdr.FileInfo().Mode().Perm()); err != nil {
				return files, err
			}
			files = append(files, target)
		default:
			// links and devices are not needed for job outputs
		}
	}
	return files, nil
}

func safeJoin(root, name string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("tar entry %q escapes the destination directory", name)
	}
	return filepath.Join(root, cleaned), nil
}

func extractFile(r io.Reader, target string, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	if perm == 0 {
		perm = 0o644
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("failed to extract %s: %w", target, err)
	}
	return f.Close()
}
