package helper

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

type magic struct {
	prefix []byte
	suffix string
}

// https://en.wikipedia.org/wiki/List_of_file_signatures
var magicTable = []magic{
	{[]byte{31, 139}, ".gz"},       // .gz "\x1f\x8b"
	{[]byte{80, 75, 3, 4}, ".zip"}, // .zip "\x50\x4B\x03\x04"
	{[]byte{80, 75, 5, 6}, ".zip"}, // .zip "\x50\x4B\x05\x06"
	{[]byte{80, 75, 7, 8}, ".zip"}, // .zip "\x50\x4B\x07\x08"
}

// ArchiveSuffix returns the file suffix matching the magic bytes of content
// or an empty string if content is not a supported archive.
func ArchiveSuffix(content []byte) string {
	sliceEnd := 10
	if len(content) < sliceEnd {
		sliceEnd = len(content)
	}
	contentStr := content[0:sliceEnd]

	for _, m := range magicTable {
		if bytes.HasPrefix(contentStr, m.prefix) {
			return m.suffix
		}
	}

	return ""
}

func IsSupportedArchive(content []byte) bool {
	return ArchiveSuffix(content) != ""
}

// SanitizeFilename strips any directory part from an untrusted file name.
// An empty result is replaced by fallback.
func SanitizeFilename(name, fallback string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(filepath.Clean("/" + name))
	if name == "/" || name == "." || name == "" {
		return fallback
	}
	return name
}

// SaveFile writes r to the new file dst. Existing files are never overwritten.
func SaveFile(dst string, r io.Reader) error {
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640) // nolint: gosec
	if err != nil {
		return fmt.Errorf("could not create %s: %w", dst, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return fmt.Errorf("could not write %s: %w", dst, err)
	}
	return f.Close()
}
