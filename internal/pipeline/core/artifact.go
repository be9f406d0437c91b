package core

import (
	"time"

	"github.com/jmylchreest/digwatch/internal/models"
)

// ArtifactType identifies what a stage produced.
type ArtifactType string

const (
	ArtifactTypeFrames       ArtifactType = "frames"        // extracted frame directory
	ArtifactTypeReport       ArtifactType = "report"        // rendered markdown report
	ArtifactTypeReportHTML   ArtifactType = "report_html"   // chart-bearing HTML report
	ArtifactTypeContactSheet ArtifactType = "contact_sheet" // frame-grid JPEG
)

// Artifact is a file or directory a stage produced. Artifacts flow through
// StageResult into the run record so later stages and the report can find
// them.
type Artifact struct {
	ID        models.ULID
	Type      ArtifactType
	FilePath  string
	CreatedBy string // stage ID
	// RecordCount is the number of records inside, e.g. frames in the
	// frame directory.
	RecordCount int
	FileSize    int64
	CreatedAt   time.Time
	Metadata    map[string]any
}

// NewArtifact starts an artifact of the given type attributed to the stage.
// The With* methods fill in the rest.
func NewArtifact(artifactType ArtifactType, createdBy string) Artifact {
	return Artifact{
		ID:        models.NewULID(),
		Type:      artifactType,
		CreatedBy: createdBy,
		CreatedAt: time.Now(),
		Metadata:  make(map[string]any),
	}
}

// WithFilePath sets the artifact's path.
func (a Artifact) WithFilePath(path string) Artifact {
	a.FilePath = path
	return a
}

// WithRecordCount sets the record count.
func (a Artifact) WithRecordCount(count int) Artifact {
	a.RecordCount = count
	return a
}

// WithFileSize sets the size in bytes.
func (a Artifact) WithFileSize(size int64) Artifact {
	a.FileSize = size
	return a
}

// WithMetadata adds one metadata entry.
func (a Artifact) WithMetadata(key string, value any) Artifact {
	a.Metadata[key] = value
	return a
}
