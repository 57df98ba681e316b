package trace

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// SpanRecord is the flat, JSON-serializable projection of one reconstructed
// span, as written by an Export.
type SpanRecord struct {
	SpanID             string         `json:"span_id"`
	ParentSpanID       string         `json:"parent_span_id,omitempty"`
	Kind               string         `json:"kind"`
	Name               string         `json:"name"`
	ActorID            string         `json:"actor_id"`
	Attributes         map[string]any `json:"attributes,omitempty"`
	StartedAt          time.Time      `json:"started_at"`
	EndedAt            time.Time      `json:"ended_at,omitempty"`
	Status             string         `json:"status"`
	ErrorClass         string         `json:"error_class,omitempty"`
	ErrorMessage       string         `json:"error_message,omitempty"`
	OutputArtifactHash string         `json:"output_artifact_hash,omitempty"`

	InputArtifactHashes  []string `json:"input_artifact_hashes,omitempty"`
	OutputArtifactHashes []string `json:"output_artifact_hashes,omitempty"`
}

// Export is the full set of spans belonging to one trace, as written by a
// Repository. It is a read-side projection: the EventLog remains the only
// durable source of truth, and an Export can always be regenerated from it.
type Export struct {
	TraceID string       `json:"trace_id"`
	Spans   []SpanRecord `json:"spans"`
}

// Repository persists an Export for later retrieval or archival.
type Repository interface {
	Save(ctx context.Context, export *Export) error
}

// FileRepository writes each Export as a JSON file named by trace ID.
type FileRepository struct {
	dir string
}

// NewFileRepository creates a FileRepository that writes to dir.
func NewFileRepository(dir string) *FileRepository {
	return &FileRepository{dir: dir}
}

// Save writes export as JSON to {dir}/{trace_id}.json.
func (r *FileRepository) Save(_ context.Context, export *Export) error {
	if err := os.MkdirAll(r.dir, 0750); err != nil {
		return goerr.Wrap(err, "failed to create trace export directory", goerr.V("dir", r.dir))
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return goerr.Wrap(err, "failed to marshal trace export")
	}

	filePath := filepath.Join(r.dir, export.TraceID+".json")
	if err := os.WriteFile(filePath, data, 0600); err != nil {
		return goerr.Wrap(err, "failed to write trace export file", goerr.V("path", filePath))
	}

	return nil
}
