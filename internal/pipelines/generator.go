package pipelines

import (
	"context"
	"errors"
	"strings"

	"github.com/turbolytics/pixelator/pkg/batch"
)

// Generator produces images from a prompt. ref identifies the request on the
// remote side.
type Generator interface {
	Generate(ctx context.Context, prompt, ref string) ([]string, error)
}

// GeneratorAdapter runs a record's source image through a Generator with a
// style prompt.
type GeneratorAdapter struct {
	Generator   Generator
	StylePrompt string
}

func (a GeneratorAdapter) Process(ctx context.Context, rec batch.Record) (batch.Artifacts, error) {
	if rec.SourceImage == "" {
		return batch.Artifacts{}, batch.NotFound(errors.New("record has no source image"))
	}

	prompt := strings.TrimSpace(rec.SourceImage + " " + a.StylePrompt)
	ref := rec.ID
	if l := Label(rec.DisplayName); l != "" {
		ref += "_" + l
	}

	urls, err := a.Generator.Generate(ctx, prompt, ref)
	if err != nil {
		return batch.Artifacts{}, batch.Classify(err)
	}
	return batch.Artifacts{Refs: urls, Source: rec.SourceImage}, nil
}
