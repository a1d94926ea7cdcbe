package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	xmlSuffix   = ".xml"
	gzSuffix    = ".gz"
	zipSuffix   = ".zip"
	tarGzSuffix = ".tar.gz"
	tgzSuffix   = ".tgz"

	// upper bound for a single decompressed file
	maxEntrySize = 512 << 20
)

var (
	ErrUnsupportedFormat = errors.New("unsupported archive format")
	ErrExtraction        = errors.New("extraction failed")
	ErrUnsafePath        = fmt.Errorf("%w: entry escapes destination", ErrExtraction)
)

// Format is the container type detected from a file name.
type Format int

const (
	FormatUnknown Format = iota
	FormatTarGz
	FormatZip
	FormatGzip
)

func (f Format) String() string {
	switch f {
	case FormatTarGz:
		return "tar.gz"
	case FormatZip:
		return "zip"
	case FormatGzip:
		return "gzip"
	default:
		return "unknown"
	}
}

// DetectFormat checks the suffix of name. The compound tar suffix wins over
// the plain gzip one.
func DetectFormat(name string) Format {
	n := strings.ToLower(filepath.Base(name))
	switch {
	case strings.HasSuffix(n, tarGzSuffix), strings.HasSuffix(n, tgzSuffix):
		return FormatTarGz
	case strings.HasSuffix(n, zipSuffix):
		return FormatZip
	case strings.HasSuffix(n, gzSuffix):
		return FormatGzip
	default:
		return FormatUnknown
	}
}

// IsXML reports whether name carries the xml suffix.
func IsXML(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), xmlSuffix)
}

// Extract unpacks src into dst and returns the paths of the xml documents
// found. dst is created when missing. Nothing is written for unsupported
// formats.
func Extract(src, dst string) ([]string, error) {
	format := DetectFormat(src)
	if format == FormatUnknown {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, suffixChain(src))
	}

	if err := os.MkdirAll(dst, 0o750); err != nil {
		return nil, fmt.Errorf("%w: could not create %s: %w", ErrExtraction, dst, err)
	}

	switch format {
	case FormatTarGz:
		return extractTarGz(src, dst)
	case FormatZip:
		return extractZip(src, dst)
	default:
		return extractGz(src, dst)
	}
}

func extractTarGz(src, dst string) ([]string, error) {
	f, err := os.Open(src) // nolint: gosec
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtraction, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%w: could not gzip read: %w", ErrExtraction, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		} else if errors.Is(err, tar.ErrInsecurePath) {
			return nil, fmt.Errorf("%w: %q", ErrUnsafePath, hdr.Name)
		} else if err != nil {
			return nil, fmt.Errorf("%w: could not read tar header: %w", ErrExtraction, err)
		}

		target, err := safeJoin(dst, hdr.Name)
		if err != nil {
			return nil, err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o750); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrExtraction, err)
			}
		case tar.TypeReg:
			if err := writeFile(target, tr); err != nil {
				return nil, fmt.Errorf("could not write %s: %w", hdr.Name, err)
			}
		default:
			// links and devices are never materialized
			continue
		}
	}

	var xmlFiles []string
	err = filepath.WalkDir(dst, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && IsXML(d.Name()) {
			xmlFiles = append(xmlFiles, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: could not walk %s: %w", ErrExtraction, dst, err)
	}
	return xmlFiles, nil
}

func extractZip(src, dst string) ([]string, error) {
	r, err := zip.OpenReader(src)
	if errors.Is(err, zip.ErrInsecurePath) {
		// the reader is returned together with ErrInsecurePath
		_ = r.Close()
		return nil, fmt.Errorf("%w: %s", ErrUnsafePath, filepath.Base(src))
	} else if err != nil {
		return nil, fmt.Errorf("%w: could not open zip: %w", ErrExtraction, err)
	}
	defer r.Close()

	var xmlFiles []string
	for _, f := range r.File {
		target, err := safeJoin(dst, f.Name)
		if err != nil {
			return nil, err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o750); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrExtraction, err)
			}
			continue
		}
		x, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: could not open file %s inside zip: %w", ErrExtraction, f.Name, err)
		}
		err = writeFile(target, x)
		x.Close()
		if err != nil {
			return nil, fmt.Errorf("could not write %s: %w", f.Name, err)
		}
		if IsXML(f.Name) {
			xmlFiles = append(xmlFiles, target)
		}
	}
	return xmlFiles, nil
}

func extractGz(src, dst string) ([]string, error) {
	f, err := os.Open(src) // nolint: gosec
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtraction, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%w: could not gzip read: %w", ErrExtraction, err)
	}
	defer gz.Close()

	target := filepath.Join(dst, gzOutputName(src))
	if err := writeFile(target, gz); err != nil {
		return nil, err
	}
	return []string{target}, nil
}

// gzOutputName strips the compression suffix and adds the xml suffix when no
// extension is left. report.xml.gz -> report.xml, report.gz -> report.xml
func gzOutputName(src string) string {
	base := filepath.Base(src)
	name := base[:len(base)-len(gzSuffix)]
	if filepath.Ext(name) == "" {
		name += xmlSuffix
	}
	return name
}

func writeFile(target string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return fmt.Errorf("%w: %w", ErrExtraction, err)
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640) // nolint: gosec
	if err != nil {
		return fmt.Errorf("%w: %w", ErrExtraction, err)
	}
	n, err := io.Copy(out, io.LimitReader(r, maxEntrySize+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrExtraction, err)
	}
	if n > maxEntrySize {
		return fmt.Errorf("%w: %s exceeds %d bytes", ErrExtraction, filepath.Base(target), maxEntrySize)
	}
	return nil
}

// safeJoin joins an archive entry name to dst and refuses anything that
// would land outside of dst.
func safeJoin(dst, name string) (string, error) {
	cleanDst := filepath.Clean(dst)
	target := filepath.Join(cleanDst, name)
	rel, err := filepath.Rel(cleanDst, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	return target, nil
}

// suffixChain returns all extensions of a file name, e.g. ".tar.rar"
func suffixChain(name string) string {
	base := strings.TrimLeft(filepath.Base(name), ".")
	parts := strings.Split(base, ".")
	if len(parts) < 2 {
		return "(no suffix)"
	}
	return "." + strings.Join(parts[1:], ".")
}
