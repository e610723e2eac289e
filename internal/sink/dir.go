// Package sink delivers received files to the local filesystem.
package sink

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/rudransh-shrivastava/sharesync/internal/logger"
	"github.com/rudransh-shrivastava/sharesync/internal/transfer"
	"github.com/sirupsen/logrus"
)

var ErrInvalidName = errors.New("invalid file name")

// maxCollisions bounds the "name (n).ext" search.
const maxCollisions = 1000

// DirSink writes each delivered file into one directory. A name that is
// already taken gets a numeric suffix; existing files are never replaced.
type DirSink struct {
	dir    string
	logger *logrus.Logger
	mu     sync.Mutex
}

var _ transfer.Sink = (*DirSink)(nil)

func NewDirSink(dir string, log *logrus.Logger) *DirSink {
	if log == nil {
		log = logger.NewLogger()
	}
	return &DirSink{dir: dir, logger: log}
}

func (s *DirSink) Dir() string {
	return s.dir
}

// SafeName reduces a peer-declared name to a single path element.
func SafeName(name string) (string, error) {
	name = strings.ReplaceAll(name, `\`, "/")
	base := filepath.Base(filepath.Clean("/" + name))
	if base == "" || base == "." || base == ".." || base == string(filepath.Separator) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return base, nil
}

func (s *DirSink) Deliver(name string, data []byte) (transfer.Delivery, error) {
	base, err := SafeName(name)
	if err != nil {
		return transfer.Delivery{}, err
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return transfer.Delivery{}, fmt.Errorf("creating download dir: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".sharesync-*")
	if err != nil {
		return transfer.Delivery{}, err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return transfer.Delivery{}, err
	}
	if err := tmp.Close(); err != nil {
		return transfer.Delivery{}, err
	}

	s.mu.Lock()
	path, err := s.claim(base)
	if err == nil {
		err = os.Rename(tmpPath, path)
	}
	s.mu.Unlock()
	if err != nil {
		return transfer.Delivery{}, err
	}

	mime := mimetype.Detect(data).String()
	s.logger.WithFields(logrus.Fields{
		"path": path,
		"size": humanize.Bytes(uint64(len(data))),
		"mime": mime,
	}).Debug("Saved file")

	return transfer.Delivery{Path: path, MimeType: mime}, nil
}

// claim returns the first free path for base. Callers hold mu.
func (s *DirSink) claim(base string) (string, error) {
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	for i := 0; i < maxCollisions; i++ {
		candidate := base
		if i > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", stem, i, ext)
		}
		path := filepath.Join(s.dir, candidate)
		if _, err := os.Lstat(path); errors.Is(err, os.ErrNotExist) {
			return path, nil
		} else if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("no free name for %s in %s", base, s.dir)
}
