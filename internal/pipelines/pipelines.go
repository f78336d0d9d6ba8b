package pipelines

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/turbolytics/pixelator/pkg/batch"
)

const (
	PixelArt     = "pixelart"
	Placeholder  = "placeholder"
	NoBackground = "nobg"
)

// Definition is the fixed shape of a pipeline: what it reads, what it skips,
// what it writes and how its output file is named.
type Definition struct {
	Name  string
	Label string
	// Route is the legacy upload endpoint of the pipeline.
	Route string

	SourceColumn string
	SkipColumn   string
	// SkipNone treats NONE in SkipColumn as already processed.
	SkipNone      bool
	PrimaryColumn string
	// ArtifactColumn numbers 1..4 are written when set.
	ArtifactColumn string
	// FilePrefix starts the name of the persisted table.
	FilePrefix string
}

var definitions = map[string]Definition{
	PixelArt: {
		Name:           PixelArt,
		Label:          "Pixel Art Generation",
		Route:          "/api/process",
		SourceColumn:   "profilepicture",
		SkipColumn:     "Character Img Mario",
		PrimaryColumn:  "Character Img Mario",
		ArtifactColumn: "generatedArt",
		FilePrefix:     "character_image_pixel_art_results_",
	},
	Placeholder: {
		Name:           Placeholder,
		Label:          "Placeholder Art Generation",
		Route:          "/api/generate-placeholder-images",
		SourceColumn:   "Character Img Mario",
		SkipColumn:     "Placeholder Img Mario",
		SkipNone:       true,
		PrimaryColumn:  "Placeholder Img Mario",
		ArtifactColumn: "placeholderArt",
		FilePrefix:     "placeholder_art_results_",
	},
	NoBackground: {
		Name:          NoBackground,
		Label:         "Character Image Background Removal",
		Route:         "/api/remove-background-from-character-images",
		SourceColumn:  "Character Img Mario",
		SkipColumn:    "No Background Character Img Mario",
		PrimaryColumn: "No Background Character Img Mario",
		FilePrefix:    "character_image_no_bg_results_",
	},
}

func Lookup(name string) (Definition, bool) {
	d, ok := definitions[name]
	return d, ok
}

func (d Definition) Validator() RowValidator {
	return RowValidator{SourceColumn: d.SourceColumn, SkipColumn: d.SkipColumn, SkipNone: d.SkipNone}
}

func (d Definition) Layout() batch.Layout {
	l := batch.Layout{
		JoinColumn:         ColumnLinkedinURL,
		FallbackJoinColumn: ColumnRecordID,
		PrimaryColumn:      d.PrimaryColumn,
	}
	if d.ArtifactColumn != "" {
		l.ArtifactColumns = batch.NumberedColumns(d.ArtifactColumn, batch.MaxArtifacts)
	}
	return l
}

func (d Definition) Pipeline(adapter batch.WorkAdapter, logger *zap.Logger) *batch.Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &batch.Pipeline{
		Name:           d.Name,
		Label:          d.Label,
		Validator:      d.Validator(),
		Adapter:        adapter,
		Reconciler:     batch.NewReconciler(d.Layout(), batch.ReconcilerWithLogger(logger.Named("reconciler"))),
		ArtifactPrefix: d.FilePrefix,
	}
}

// Registry holds the pipelines a process can run.
type Registry struct {
	pipelines map[string]*batch.Pipeline
	defs      map[string]Definition
}

func NewRegistry() *Registry {
	return &Registry{
		pipelines: make(map[string]*batch.Pipeline),
		defs:      make(map[string]Definition),
	}
}

// Register binds an adapter to a named definition.
func (r *Registry) Register(name string, adapter batch.WorkAdapter, logger *zap.Logger) error {
	d, ok := Lookup(name)
	if !ok {
		return fmt.Errorf("unknown pipeline %q", name)
	}
	if adapter == nil {
		return fmt.Errorf("pipeline %q: nil adapter", name)
	}
	r.pipelines[name] = d.Pipeline(adapter, logger)
	r.defs[name] = d
	return nil
}

func (r *Registry) Get(name string) (*batch.Pipeline, bool) {
	p, ok := r.pipelines[name]
	return p, ok
}

// Definitions returns the registered definitions sorted by name.
func (r *Registry) Definitions() []Definition {
	out := make([]Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
