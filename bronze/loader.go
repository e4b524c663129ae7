// Package bronze bulk-loads raw CVE documents into the record store,
// unmodified, with provenance metadata.
package bronze

import (
	"encoding/json"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	pb "github.com/cheggaaa/pb/v3"
	"github.com/klauspost/compress/gzip"
	"github.com/spf13/afero"
	"golang.org/x/xerrors"

	"github.com/cvelake/cvelake/store"
)

// RawTable is the Bronze-layer table name.
const RawTable = "raw_cve"

// RawSchema describes one raw record row.
var RawSchema = store.Schema{
	{Name: "source_id", Type: "TEXT"},
	{Name: "source_path", Type: "TEXT"},
	{Name: "ingested_at", Type: "TIMESTAMP"},
	{Name: "payload", Type: "TEXT"},
}

type option func(*Loader)

func WithAppFs(fs afero.Fs) option {
	return func(l *Loader) { l.appFs = fs }
}

func WithTable(table string) option {
	return func(l *Loader) { l.table = table }
}

// WithProgress toggles the terminal progress bar.
func WithProgress(show bool) option {
	return func(l *Loader) { l.progress = show }
}

// Loader walks a year/identifier source tree and appends one raw record
// per document that parses. Documents that fail to parse are counted and
// skipped; a bad file never fails the batch.
type Loader struct {
	appFs    afero.Fs
	store    store.Store
	table    string
	progress bool
}

func NewLoader(s store.Store, opts ...option) *Loader {
	l := &Loader{
		appFs:    afero.NewOsFs(),
		store:    s,
		table:    RawTable,
		progress: true,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load ingests every document under root matching the year filter
// (year 0 means all years). It returns the number of records written and
// the number of parse failures.
func (l *Loader) Load(root string, year int) (loaded, failed int, err error) {
	paths, err := l.candidates(root, year)
	if err != nil {
		return 0, 0, xerrors.Errorf("unable to enumerate %s: %w", root, err)
	}
	log.Printf("Loading %d documents from %s", len(paths), root)

	var bar *pb.ProgressBar
	if l.progress {
		bar = pb.StartNew(len(paths))
	}

	loadedAt := time.Now().UTC()
	var rows []store.Row
	for _, path := range paths {
		if bar != nil {
			bar.Increment()
		}

		payload, err := l.readDocument(path)
		if err != nil {
			log.Printf("skipping %s: %v", path, err)
			failed++
			continue
		}

		rows = append(rows, store.Row{
			"source_id":   sourceID(payload, path),
			"source_path": path,
			"ingested_at": loadedAt,
			"payload":     string(payload),
		})
	}
	if bar != nil {
		bar.Finish()
	}

	if err := l.store.Append(l.table, RawSchema, rows); err != nil {
		return 0, failed, xerrors.Errorf("unable to append raw batch: %w", err)
	}
	return len(rows), failed, nil
}

func (l *Loader) candidates(root string, year int) ([]string, error) {
	var paths []string
	err := afero.Walk(l.appFs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return xerrors.Errorf("file walk error: %w", err)
		}
		if info.IsDir() {
			return nil
		}
		name := info.Name()
		if !strings.HasSuffix(name, ".json") && !strings.HasSuffix(name, ".json.gz") {
			return nil
		}
		if !matchesYear(path, year) {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	return paths, err
}

// readDocument reads one file, transparently decompressing .json.gz, and
// verifies the content is a JSON object. The returned bytes are the
// document verbatim; interpretation belongs to the Silver layer.
func (l *Loader) readDocument(path string) ([]byte, error) {
	f, err := l.appFs.Open(path)
	if err != nil {
		return nil, xerrors.Errorf("file open error: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, xerrors.Errorf("gzip error: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	payload, err := io.ReadAll(r)
	if err != nil {
		return nil, xerrors.Errorf("read error: %w", err)
	}

	var probe map[string]interface{}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return nil, xerrors.Errorf("parse error: %w", err)
	}
	return payload, nil
}

// sourceID extracts the CVE identifier for provenance. A document without
// one is still ingested under its file stem; the Normalizer decides
// whether it is usable.
func sourceID(payload []byte, path string) string {
	var tree struct {
		CveMetadata struct {
			CveID string `json:"cveId"`
		} `json:"cveMetadata"`
	}
	if err := json.Unmarshal(payload, &tree); err == nil && tree.CveMetadata.CveID != "" {
		return tree.CveMetadata.CveID
	}

	base := filepath.Base(path)
	base = strings.TrimSuffix(base, ".gz")
	return strings.TrimSuffix(base, ".json")
}

// matchesYear accepts documents whose CVE identifier or parent directory
// carries the requested year.
func matchesYear(path string, year int) bool {
	if year == 0 {
		return true
	}
	y := strconv.Itoa(year)

	base := filepath.Base(path)
	if strings.HasPrefix(base, "CVE-"+y+"-") {
		return true
	}
	return filepath.Base(filepath.Dir(path)) == y
}
