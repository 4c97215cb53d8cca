package tools

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/gantry-project/gantry/internal/featurelist"
	"github.com/gantry-project/gantry/internal/registry"
	"github.com/gantry-project/gantry/internal/validation"
)

// ConvertParams is the gantry.convertFeatureList input. Content is the
// feature list document; format defaults to auto-detection. One of teamId
// and teamKey selects the target team.
type ConvertParams struct {
	Content         string `json:"content" jsonschema:"description=Feature list as plain text, markdown, or JSON"`
	Format          string `json:"format,omitempty" jsonschema:"enum=,enum=auto,enum=plain,enum=markdown,enum=json"`
	TeamID          string `json:"teamId,omitempty"`
	TeamKey         string `json:"teamKey,omitempty"`
	ProjectID       string `json:"projectId,omitempty"`
	DryRun          bool   `json:"dryRun,omitempty"`
	DefaultPriority *int   `json:"defaultPriority,omitempty"`
}

// ConvertTool turns feature list documents into tracker issues.
type ConvertTool struct {
	conv   *featurelist.Converter
	logger *zap.Logger
}

func NewConvertTool(conv *featurelist.Converter, logger *zap.Logger) *ConvertTool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConvertTool{conv: conv, logger: logger.Named("tool.convert")}
}

func (t *ConvertTool) Metadata() registry.ToolMetadata {
	return registry.ToolMetadata{
		Name:         Namespace + ".convertFeatureList",
		Description:  "Parse a feature list document and create one issue per feature, nesting children under parents",
		Version:      "1.0",
		InputSchema:  registry.GenerateSchema("gantry.convertFeatureList params", &ConvertParams{}),
		OutputSchema: registry.GenerateSchema("gantry.convertFeatureList result", &featurelist.Result{}),
	}
}

func (t *ConvertTool) Execute(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p ConvertParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	content, err := validation.Required("/params/content", p.Content, validation.MaxLongText)
	if err != nil {
		return nil, err
	}
	format, err := featurelist.ParseFormat(p.Format)
	if err != nil {
		return nil, err
	}
	return t.conv.ConvertText(ctx, content, format, featurelist.Options{
		TeamID:          p.TeamID,
		TeamKey:         p.TeamKey,
		ProjectID:       p.ProjectID,
		DryRun:          p.DryRun,
		DefaultPriority: p.DefaultPriority,
	})
}
