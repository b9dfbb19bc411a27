// Package archive resolves an uploaded file — a bare XML export or a zip
// bundle containing one — down to a single readable XML stream, enforcing
// the size cap and structural sanity checks before any byte reaches the
// classifier. The zip-slip defense here is carried over unchanged from the
// original extraction helper this package replaces.
package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"vitalpipe.dev/ingesterr"
)

// DefaultMaxSize is the size cap applied when a caller does not configure
// one explicitly.
const DefaultMaxSize int64 = 4 << 30 // 4 GiB

// RootCloseTag is the closing tag a candidate XML file's final bytes must
// contain to be considered non-truncated. The source vendor's schema names
// its root element HealthData; the check itself has no other vendor
// knowledge.
const RootCloseTag = "</HealthData>"

// truncationWindow is how many trailing bytes are inspected for RootCloseTag.
const truncationWindow = 1024

// Candidate is a validated XML stream ready for the classifier, along with
// its reported size and a Close to release whatever backs it (an open file,
// a zip reader).
type Candidate struct {
	Reader io.ReadCloser
	Size   int64
}

// Validate resolves path (whose declared extension is ext, lowercase
// without a leading dot — "xml" or "zip") into a Candidate. maxSize <= 0
// means DefaultMaxSize.
func Validate(path, ext string, maxSize int64) (*Candidate, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	switch strings.ToLower(ext) {
	case "xml":
		return validateXMLFile(path, maxSize)
	case "zip":
		return validateZipFile(path, maxSize)
	default:
		return nil, ingesterr.New(ingesterr.UnsupportedInput, fmt.Errorf("unsupported extension %q", ext))
	}
}

func validateXMLFile(path string, maxSize int64) (*Candidate, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, ingesterr.New(ingesterr.ArchiveMalformed, fmt.Errorf("stat %s: %w", path, err))
	}
	// A declared size over the cap is rejected up front rather than opening
	// the file at all; the counting reader below is the actual enforcement
	// (it does not trust size metadata, which matters more for zip members).
	if info.Size() > maxSize {
		return nil, ingesterr.New(ingesterr.InputTooLarge, fmt.Errorf(
			"file size %s exceeds cap %s", humanize.Bytes(uint64(info.Size())), humanize.Bytes(uint64(maxSize))))
	}
	if err := checkTrailingCloseTag(path, info.Size()); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, ingesterr.New(ingesterr.ArchiveMalformed, fmt.Errorf("open %s: %w", path, err))
	}
	return &Candidate{
		Reader: &countingReadCloser{countingReader: newCountingReader(f, maxSize), closer: f},
		Size:   info.Size(),
	}, nil
}

func validateZipFile(path string, maxSize int64) (*Candidate, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, ingesterr.New(ingesterr.ArchiveMalformed, fmt.Errorf("stat %s: %w", path, err))
	}
	if info.Size() > maxSize {
		return nil, ingesterr.New(ingesterr.InputTooLarge, fmt.Errorf(
			"archive size %s exceeds cap %s", humanize.Bytes(uint64(info.Size())), humanize.Bytes(uint64(maxSize))))
	}

	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, ingesterr.New(ingesterr.ArchiveMalformed, fmt.Errorf("open zip %s: %w", path, err))
	}

	member, err := selectMember(zr, path)
	if err != nil {
		zr.Close()
		return nil, err
	}
	if member.UncompressedSize64 > uint64(maxSize) {
		zr.Close()
		return nil, ingesterr.New(ingesterr.InputTooLarge, fmt.Errorf(
			"member %s size %s exceeds cap %s", member.Name,
			humanize.Bytes(member.UncompressedSize64), humanize.Bytes(uint64(maxSize))))
	}

	rc, err := member.Open()
	if err != nil {
		zr.Close()
		return nil, ingesterr.New(ingesterr.ArchiveMalformed, fmt.Errorf("open member %s: %w", member.Name, err))
	}
	if err := checkTrailingCloseTagReader(rc, int64(member.UncompressedSize64)); err != nil {
		rc.Close()
		zr.Close()
		return nil, err
	}
	// checkTrailingCloseTagReader drained rc; reopen a fresh stream for the classifier.
	rc.Close()
	rc, err = member.Open()
	if err != nil {
		zr.Close()
		return nil, ingesterr.New(ingesterr.ArchiveMalformed, fmt.Errorf("reopen member %s: %w", member.Name, err))
	}

	// member.UncompressedSize64 comes from the zip central directory, which
	// a crafted archive can lie about; the counting reader below is the
	// actual enforcement, counting bytes as the classifier consumes them
	// rather than trusting that metadata.
	return &Candidate{
		Reader: &countingReadCloser{
			countingReader: newCountingReader(rc, maxSize),
			closer:         &zipCandidateCloser{ReadCloser: rc, archive: zr},
		},
		Size: int64(member.UncompressedSize64),
	}, nil
}

// countingReader wraps an io.Reader and fails once more bytes have been
// read through it than max, independent of any size metadata the source
// (a stat call, a zip central directory entry) declared in advance.
type countingReader struct {
	r   io.Reader
	max int64
	n   int64
}

func newCountingReader(r io.Reader, max int64) *countingReader {
	return &countingReader{r: r, max: max}
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.n += int64(n)
		if c.n > c.max {
			return n, ingesterr.New(ingesterr.InputTooLarge, fmt.Errorf(
				"stream exceeds cap %s", humanize.Bytes(uint64(c.max))))
		}
	}
	return n, err
}

// countingReadCloser pairs a countingReader with whatever Close releases
// the underlying stream (a plain os.File, or a zipCandidateCloser that
// also closes the archive).
type countingReadCloser struct {
	*countingReader
	closer io.Closer
}

func (c *countingReadCloser) Close() error {
	return c.closer.Close()
}

// zipCandidateCloser closes both the member reader and the archive itself.
type zipCandidateCloser struct {
	io.ReadCloser
	archive *zip.ReadCloser
}

func (c *zipCandidateCloser) Close() error {
	err := c.ReadCloser.Close()
	if aerr := c.archive.Close(); aerr != nil && err == nil {
		err = aerr
	}
	return err
}

// selectMember walks a zip's central directory and picks an export.xml
// suffixed member case-insensitively, else the first .xml member. Every
// entry is validated against zip-slip before being considered, matching
// the path-traversal defense the original extractor carried.
func selectMember(zr *zip.ReadCloser, archivePath string) (*zip.File, error) {
	root := filepath.Dir(archivePath)
	var firstXML *zip.File
	var exportXML *zip.File

	for _, f := range zr.File {
		resolved := filepath.Join(root, f.Name)
		if !strings.HasPrefix(resolved, filepath.Clean(root)+string(os.PathSeparator)) {
			return nil, ingesterr.New(ingesterr.ArchiveMalformed, fmt.Errorf("entry %q escapes extraction root", f.Name))
		}
		if f.FileInfo().IsDir() || !strings.HasSuffix(strings.ToLower(f.Name), ".xml") {
			continue
		}
		if firstXML == nil {
			firstXML = f
		}
		if strings.HasSuffix(strings.ToLower(f.Name), "export.xml") {
			exportXML = f
			break
		}
	}
	if exportXML != nil {
		return exportXML, nil
	}
	if firstXML != nil {
		return firstXML, nil
	}
	return nil, ingesterr.New(ingesterr.ArchiveMalformed, fmt.Errorf("archive contains no .xml member"))
}

// checkTrailingCloseTag reads the final truncationWindow bytes of the file
// at path and verifies RootCloseTag is present.
func checkTrailingCloseTag(path string, size int64) error {
	f, err := os.Open(path)
	if err != nil {
		return ingesterr.New(ingesterr.ArchiveMalformed, fmt.Errorf("open %s: %w", path, err))
	}
	defer f.Close()

	offset := size - truncationWindow
	if offset < 0 {
		offset = 0
	}
	buf := make([]byte, size-offset)
	if _, err := f.ReadAt(buf, offset); err != nil && err != io.EOF {
		return ingesterr.New(ingesterr.ArchiveMalformed, fmt.Errorf("reading tail of %s: %w", path, err))
	}
	if !bytes.Contains(buf, []byte(RootCloseTag)) {
		return ingesterr.New(ingesterr.InputTruncated, fmt.Errorf("missing %s in final %d bytes", RootCloseTag, len(buf)))
	}
	return nil
}

// checkTrailingCloseTagReader does the same check for a zip member, which
// has no random access: it streams the whole member, keeping only the last
// truncationWindow bytes in memory.
func checkTrailingCloseTagReader(r io.Reader, size int64) error {
	tail := make([]byte, 0, truncationWindow)
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			tail = append(tail, buf[:n]...)
			if len(tail) > truncationWindow {
				tail = tail[len(tail)-truncationWindow:]
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return ingesterr.New(ingesterr.ArchiveMalformed, fmt.Errorf("reading member: %w", err))
		}
	}
	if !bytes.Contains(tail, []byte(RootCloseTag)) {
		return ingesterr.New(ingesterr.InputTruncated, fmt.Errorf("missing %s in final %d bytes", RootCloseTag, len(tail)))
	}
	return nil
}
