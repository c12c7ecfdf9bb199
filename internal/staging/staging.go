// Package staging persists the parsed batch as three parquet tables plus a
// manifest, the hand-off between the parse and load stages.
package staging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/parquet-go/parquet-go"
	"golang.org/x/sync/errgroup"

	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/argo"
	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/logging"
	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/storage"
)

// Table names; each is stored as <name>.parquet.
const (
	TableFloats       = "floats"
	TableProfiles     = "profiles"
	TableMeasurements = "measurements"

	ManifestKey = "_manifest.json"
)

// Tables lists the staged tables in load order.
var Tables = []string{TableFloats, TableProfiles, TableMeasurements}

// Manifest describes one staged batch.
type Manifest struct {
	RunID     string               `json:"run_id"`
	Tables    map[string]TableInfo `json:"tables"`
	Producer  ProducerInfo         `json:"producer"`
	CreatedAt time.Time            `json:"created_at"`
}

// TableInfo describes a single staged table.
type TableInfo struct {
	File     string `json:"file"`
	Checksum string `json:"checksum"`
	RowCount int64  `json:"row_count"`
	ByteSize int64  `json:"byte_size"`
}

// ProducerInfo describes the software that produced the batch.
type ProducerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	GitSHA  string `json:"git_sha,omitempty"`
}

// TableFile returns the object key of a table.
func TableFile(table string) string {
	return table + ".parquet"
}

// Writer stages batches into an artifact store.
type Writer struct {
	store    storage.AtomicStore
	producer ProducerInfo
	log      *slog.Logger
}

// NewWriter creates a staging writer.
func NewWriter(store storage.AtomicStore, producer ProducerInfo, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = logging.Component("staging")
	}
	return &Writer{store: store, producer: producer, log: logger}
}

type encoded struct {
	table string
	data  []byte
	rows  int64
}

// Write encodes the batch and publishes the three tables followed by the
// manifest. Nothing is published if any table fails to encode or upload.
func (w *Writer) Write(ctx context.Context, batch argo.Batch, runID string) (*Manifest, error) {
	start := time.Now()
	out := make([]encoded, len(Tables))

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		data, err := encode(floatRows(batch.Floats))
		out[0] = encoded{TableFloats, data, int64(len(batch.Floats))}
		return wrapEncode(TableFloats, err)
	})
	g.Go(func() error {
		data, err := encode(profileRows(batch.Profiles))
		out[1] = encoded{TableProfiles, data, int64(len(batch.Profiles))}
		return wrapEncode(TableProfiles, err)
	})
	g.Go(func() error {
		data, err := encode(measurementRows(batch.Measurements))
		out[2] = encoded{TableMeasurements, data, int64(len(batch.Measurements))}
		return wrapEncode(TableMeasurements, err)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	manifest := &Manifest{
		RunID:     runID,
		Tables:    make(map[string]TableInfo, len(out)),
		Producer:  w.producer,
		CreatedAt: time.Now().UTC(),
	}

	var (
		pending []storage.Pending
		temps   []string
	)
	abort := func(cause error) error {
		if err := w.store.Abort(context.WithoutCancel(ctx), temps); err != nil {
			w.log.Warn("failed to remove staged temp objects", "error", err)
		}
		return cause
	}

	for _, e := range out {
		key := TableFile(e.table)
		tmp, err := w.store.WriteTemp(ctx, key, e.data)
		if err != nil {
			return nil, abort(fmt.Errorf("write %s: %w", key, err))
		}
		temps = append(temps, tmp)
		pending = append(pending, storage.Pending{TempKey: tmp, Key: key})

		manifest.Tables[e.table] = TableInfo{
			File:     key,
			Checksum: storage.ComputeChecksum(e.data),
			RowCount: e.rows,
			ByteSize: int64(len(e.data)),
		}
	}

	manifestBytes, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, abort(fmt.Errorf("marshal manifest: %w", err))
	}
	tmp, err := w.store.WriteTemp(ctx, ManifestKey, manifestBytes)
	if err != nil {
		return nil, abort(fmt.Errorf("write manifest: %w", err))
	}
	temps = append(temps, tmp)
	pending = append(pending, storage.Pending{TempKey: tmp, Key: ManifestKey})

	if err := w.store.Finalize(ctx, pending); err != nil {
		return nil, abort(fmt.Errorf("publish staging: %w", err))
	}

	w.log.Info("staged batch",
		"run_id", runID,
		"floats", len(batch.Floats),
		"profiles", len(batch.Profiles),
		"measurements", len(batch.Measurements),
		"location", w.store.URI(ManifestKey),
		"duration", time.Since(start).String(),
	)
	return manifest, nil
}

func wrapEncode(table string, err error) error {
	if err != nil {
		return fmt.Errorf("encode %s: %w", table, err)
	}
	return nil
}

func encode[T any](rows []T) ([]byte, error) {
	var buf bytes.Buffer
	w := parquet.NewGenericWriter[T](&buf)
	if len(rows) > 0 {
		if _, err := w.Write(rows); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode[T any](data []byte) ([]T, error) {
	r := parquet.NewGenericReader[T](bytes.NewReader(data))
	defer r.Close()

	rows := make([]T, r.NumRows())
	n := 0
	for n < len(rows) {
		k, err := r.Read(rows[n:])
		n += k
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		if k == 0 {
			break
		}
	}
	return rows[:n], nil
}

// ReadManifest loads the manifest of the staged batch. A missing manifest is
// reported as *argo.PrerequisiteMissingError.
func ReadManifest(ctx context.Context, store storage.Store) (*Manifest, error) {
	data, err := store.Read(ctx, ManifestKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, &argo.PrerequisiteMissingError{Stage: "load", Artifact: store.URI(ManifestKey), Err: err}
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	for _, table := range Tables {
		if _, ok := m.Tables[table]; !ok {
			return nil, fmt.Errorf("manifest has no entry for table %s", table)
		}
	}
	return &m, nil
}

// Read loads the staged batch, verifying every table against the manifest
// before decoding it.
func Read(ctx context.Context, store storage.Store) (argo.Batch, *Manifest, error) {
	var batch argo.Batch

	m, err := ReadManifest(ctx, store)
	if err != nil {
		return batch, nil, err
	}

	tables := make(map[string][]byte, len(Tables))
	for _, table := range Tables {
		info := m.Tables[table]
		data, err := store.Read(ctx, info.File)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return batch, nil, &argo.PrerequisiteMissingError{Stage: "load", Artifact: store.URI(info.File), Err: err}
			}
			return batch, nil, fmt.Errorf("read %s: %w", info.File, err)
		}
		if !storage.VerifyChecksum(data, info.Checksum) {
			return batch, nil, fmt.Errorf("%s: checksum mismatch (expected %s, got %s)",
				info.File, info.Checksum, storage.ComputeChecksum(data))
		}
		tables[table] = data
	}

	floats, err := decode[FloatRow](tables[TableFloats])
	if err != nil {
		return batch, nil, fmt.Errorf("decode %s: %w", TableFloats, err)
	}
	profiles, err := decode[ProfileRow](tables[TableProfiles])
	if err != nil {
		return batch, nil, fmt.Errorf("decode %s: %w", TableProfiles, err)
	}
	measurements, err := decode[MeasurementRow](tables[TableMeasurements])
	if err != nil {
		return batch, nil, fmt.Errorf("decode %s: %w", TableMeasurements, err)
	}

	counts := map[string]int{
		TableFloats:       len(floats),
		TableProfiles:     len(profiles),
		TableMeasurements: len(measurements),
	}
	for table, n := range counts {
		if want := m.Tables[table].RowCount; int64(n) != want {
			return batch, nil, fmt.Errorf("%s: row count mismatch (manifest %d, file %d)", table, want, n)
		}
	}

	batch.Floats = make([]argo.Float, len(floats))
	for i, r := range floats {
		batch.Floats[i] = r.toFloat()
	}
	batch.Profiles = make([]argo.Profile, len(profiles))
	for i, r := range profiles {
		batch.Profiles[i] = r.toProfile()
	}
	batch.Measurements = make([]argo.Measurement, len(measurements))
	for i, r := range measurements {
		batch.Measurements[i] = r.toMeasurement()
	}
	return batch, m, nil
}
