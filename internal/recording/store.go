package recording

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/danmuck/handstream/internal/logging"
	"github.com/danmuck/handstream/internal/observability"
	"github.com/danmuck/handstream/internal/protocol/compress"
	"github.com/danmuck/handstream/internal/protocol/envelope"
	"github.com/rs/zerolog"
	"github.com/zeebo/blake3"
)

const (
	FileExt = ".hrec"

	fileVersion = 1
	digestLen   = 32
	// magic(4) version(1) compression(1) digest(32)
	headerLen = 4 + 1 + 1 + digestLen
)

var fileMagic = [4]byte{'H', 'R', 'E', 'C'}

// DefaultDir is the per-user recordings directory.
func DefaultDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("%w: resolve config dir: %w", ErrPersistence, err)
	}
	return filepath.Join(base, "handstream", "recordings"), nil
}

// Store keeps one file per recording in a directory.
//
// File layout:
//
//	"HREC" | version | compression | blake3(body) | body
//
// body is the compressed CBOR encoding of the Recording.
type Store struct {
	dir        string
	codec      *envelope.Codec
	compressor compress.Compressor
	log        zerolog.Logger
}

// NewStore creates dir if needed. New files are compressed with a; files
// written with any other algorithm still load.
func NewStore(dir string, codec *envelope.Codec, a compress.Algorithm) (*Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("%w: recordings dir required", ErrPersistence)
	}
	c, err := compress.New(a)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create %s: %w", ErrPersistence, dir, err)
	}
	return &Store{
		dir:        dir,
		codec:      codec,
		compressor: c,
		log:        logging.Component("recording.store").With().Str("dir", dir).Logger(),
	}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name+FileExt)
}

// Save writes rec atomically, replacing any file with the same name.
func (s *Store) Save(rec *Recording) error {
	if rec == nil {
		return fmt.Errorf("%w: nil recording", ErrPersistence)
	}
	if err := ValidateName(rec.Name); err != nil {
		return err
	}
	data, err := s.encode(rec)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, rec.Name+"-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %w", ErrPersistence, err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: write %s: %w", ErrPersistence, tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: sync %s: %w", ErrPersistence, tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", ErrPersistence, tmpPath, err)
	}
	if err := os.Rename(tmpPath, s.Path(rec.Name)); err != nil {
		return fmt.Errorf("%w: rename into place: %w", ErrPersistence, err)
	}
	success = true
	s.log.Debug().Str("recording", rec.Name).Int("bytes", len(data)).Msg("saved")
	return nil
}

// Load reads one recording by name.
func (s *Store) Load(name string) (*Recording, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	return s.loadFile(s.Path(name))
}

// LoadAll reads every recording in the directory. Unreadable or corrupt
// files are logged and skipped.
func (s *Store) LoadAll() []*Recording {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.log.Error().Err(err).Msg("list recordings failed")
		observability.RecordRecordingOp("load", err)
		return nil
	}
	out := make([]*Recording, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != FileExt {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		rec, err := s.loadFile(path)
		observability.RecordRecordingOp("load", err)
		if err != nil {
			s.log.Error().Err(err).Str("file", entry.Name()).Msg("skipping recording")
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Delete removes the file for name. A missing file is not an error.
func (s *Store) Delete(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := os.Remove(s.Path(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: delete %s: %w", ErrPersistence, name, err)
	}
	return nil
}

func (s *Store) loadFile(path string) (*Recording, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, filepath.Base(path))
		}
		return nil, fmt.Errorf("%w: read %s: %w", ErrPersistence, path, err)
	}
	rec, err := s.decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return rec, nil
}

func (s *Store) encode(rec *Recording) ([]byte, error) {
	raw, err := s.codec.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("%w: encode %s: %w", ErrPersistence, rec.Name, err)
	}
	body, err := s.compressor.Compress(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: compress %s: %w", ErrPersistence, rec.Name, err)
	}
	digest := blake3.Sum256(body)

	out := make([]byte, 0, headerLen+len(body))
	out = append(out, fileMagic[:]...)
	out = append(out, fileVersion, byte(s.compressor.Algorithm()))
	out = append(out, digest[:]...)
	out = append(out, body...)
	return out, nil
}

func (s *Store) decode(data []byte) (*Recording, error) {
	if len(data) < headerLen {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrCorrupt, len(data))
	}
	if !bytes.Equal(data[:4], fileMagic[:]) {
		return nil, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	if data[4] != fileVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, data[4])
	}
	c, err := compress.New(compress.Algorithm(data[5]))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	body := data[headerLen:]
	digest := blake3.Sum256(body)
	if !bytes.Equal(digest[:], data[6:headerLen]) {
		return nil, fmt.Errorf("%w: digest mismatch", ErrCorrupt)
	}
	raw, err := c.Decompress(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	var rec Recording
	if err := s.codec.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if err := ValidateName(rec.Name); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return &rec, nil
}
