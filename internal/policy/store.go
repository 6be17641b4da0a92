package policy

import (
	"io/fs"
	"log/slog"
	"sync/atomic"

	dErrors "github.com/Amsterdam/haal-centraal-proxy/pkg/domainerrors"
)

// Store publishes the loaded document set to concurrent readers. Reload is an
// atomic reference swap: a lookup in progress sees either the fully-old or
// fully-new set, never a mix, and in-flight requests keep the snapshot they
// started with.
type Store struct {
	snapshot atomic.Pointer[snapshot]
	logger   *slog.Logger
}

type snapshot struct {
	documents map[string]*Document
}

// NewStore returns an empty store; call Reload before serving traffic.
func NewStore(logger *slog.Logger) *Store {
	s := &Store{logger: logger}
	s.snapshot.Store(&snapshot{documents: map[string]*Document{}})
	return s
}

// Reload loads the document set from fsys and publishes it. On failure the
// previously published set stays active and the error is returned.
func (s *Store) Reload(fsys fs.FS, dir string) error {
	documents, err := Load(fsys, dir)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("policy reload failed, keeping previous document set", "error", err)
		}
		return err
	}
	s.snapshot.Store(&snapshot{documents: documents})
	if s.logger != nil {
		s.logger.Info("policy documents loaded", "count", len(documents))
	}
	return nil
}

// Lookup returns the access profile for a dataset.
func (s *Store) Lookup(datasetID string) (*Document, error) {
	snap := s.snapshot.Load()
	doc, ok := snap.documents[datasetID]
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeUnknownDataset, "unknown dataset %q", datasetID)
	}
	return doc, nil
}

// Datasets lists the IDs of all loaded documents, for health reporting.
func (s *Store) Datasets() []string {
	snap := s.snapshot.Load()
	ids := make([]string, 0, len(snap.documents))
	for id := range snap.documents {
		ids = append(ids, id)
	}
	return ids
}
