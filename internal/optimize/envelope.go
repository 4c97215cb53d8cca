package optimize

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"github.com/gantry-project/gantry/internal/faults"
	"github.com/gantry-project/gantry/internal/models"
)

// ShapeMode selects the response envelope.
type ShapeMode string

const (
	ShapeNone        ShapeMode = ""
	ShapeProgressive ShapeMode = "progressive"
	ShapeCompressed  ShapeMode = "compressed"
	ShapeBatched     ShapeMode = "batched"
	ShapeStreaming   ShapeMode = "streaming"
)

// ParseShapeMode validates a caller-supplied mode string.
func ParseShapeMode(s string) (ShapeMode, error) {
	switch ShapeMode(s) {
	case ShapeNone, ShapeProgressive, ShapeCompressed, ShapeBatched, ShapeStreaming:
		return ShapeMode(s), nil
	default:
		return ShapeNone, faults.Validation("/shape", "unknown response shape %q", s)
	}
}

// LoadingState reports progressive-loading progress to the client.
type LoadingState struct {
	TotalResults  int     `json:"totalResults"`
	LoadedResults int     `json:"loadedResults"`
	CurrentPage   int     `json:"currentPage"`
	TotalPages    int     `json:"totalPages"`
	HasMore       bool    `json:"hasMore"`
	NextCursor    string  `json:"nextCursor,omitempty"`
	LoadProgress  float64 `json:"loadProgress"`
}

// ProgressiveResponse embeds one page of results plus loading state.
type ProgressiveResponse struct {
	Results      []models.SearchResult `json:"results"`
	LoadingState LoadingState          `json:"loadingState"`
}

// CompressedResponse wraps a gzip-compressed, base64-encoded response body.
type CompressedResponse struct {
	Compressed       bool    `json:"compressed"`
	OriginalSize     int     `json:"originalSize"`
	CompressedSize   int     `json:"compressedSize"`
	CompressionRatio float64 `json:"compressionRatio"`
	Format           string  `json:"format"`
	Data             string  `json:"data"`
}

// Batch is one slice of a batched response.
type Batch struct {
	Results      []models.SearchResult `json:"results"`
	BatchIndex   int                   `json:"batchIndex"`
	TotalBatches int                   `json:"totalBatches"`
	BatchSize    int                   `json:"batchSize"`
	HasMore      bool                  `json:"hasMore"`
}

// Chunk is one slice of a streamed response.
type Chunk struct {
	Results     []models.SearchResult `json:"results"`
	ChunkIndex  int                   `json:"chunkIndex"`
	TotalChunks int                   `json:"totalChunks"`
	HasMore     bool                  `json:"hasMore"`
	TotalCount  int                   `json:"totalCount"`
}

const compressionFormat = "gzip+base64"

// Shape applies the selected envelope. ShapeNone and sub-threshold
// compressed responses pass through unchanged. page is 1-based and only
// meaningful for ShapeProgressive.
func (o *Optimizer) Shape(resp *models.SearchResponse, mode ShapeMode, page int) (interface{}, error) {
	switch mode {
	case ShapeNone:
		return resp, nil
	case ShapeProgressive:
		return o.Progressive(resp, page), nil
	case ShapeCompressed:
		return o.MaybeCompress(resp)
	case ShapeBatched:
		return o.Batches(resp.Results), nil
	case ShapeStreaming:
		return o.Chunks(resp.Results, resp.TotalCount), nil
	default:
		return nil, faults.Validation("/shape", "unknown response shape %q", mode)
	}
}

// Progressive returns the requested page of results with loading state.
func (o *Optimizer) Progressive(resp *models.SearchResponse, page int) ProgressiveResponse {
	perPage := o.opts.ResultsPerPage
	total := len(resp.Results)
	totalPages := (total + perPage - 1) / perPage
	if totalPages < 1 {
		totalPages = 1
	}
	if page < 1 {
		page = 1
	}
	if page > totalPages {
		page = totalPages
	}

	start := (page - 1) * perPage
	end := start + perPage
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}

	progress := 1.0
	if total > 0 {
		progress = float64(end) / float64(total)
	}
	state := LoadingState{
		TotalResults:  total,
		LoadedResults: end,
		CurrentPage:   page,
		TotalPages:    totalPages,
		HasMore:       end < total || resp.HasMore,
		LoadProgress:  progress,
	}
	if end < total {
		state.NextCursor = fmt.Sprintf("page:%d", page+1)
	}
	return ProgressiveResponse{Results: resp.Results[start:end], LoadingState: state}
}

// MaybeCompress gzips the response when its serialized size exceeds the
// configured threshold, otherwise returns it unchanged.
func (o *Optimizer) MaybeCompress(resp *models.SearchResponse) (interface{}, error) {
	raw, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("marshal response for compression: %w", err)
	}
	if len(raw) <= o.opts.CompressionThreshold {
		return resp, nil
	}
	return compress(raw)
}

func compress(raw []byte) (*CompressedResponse, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("gzip response: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip response: %w", err)
	}
	compressed := buf.Bytes()
	return &CompressedResponse{
		Compressed:       true,
		OriginalSize:     len(raw),
		CompressedSize:   len(compressed),
		CompressionRatio: float64(len(compressed)) / float64(len(raw)),
		Format:           compressionFormat,
		Data:             base64.StdEncoding.EncodeToString(compressed),
	}, nil
}

// Decompress is the inverse of MaybeCompress for wrapped responses.
func Decompress(cr *CompressedResponse) (*models.SearchResponse, error) {
	if cr.Format != compressionFormat {
		return nil, faults.Validation("/format", "unsupported compression format %q", cr.Format)
	}
	compressed, err := base64.StdEncoding.DecodeString(cr.Data)
	if err != nil {
		return nil, fmt.Errorf("decode compressed response: %w", err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("open compressed response: %w", err)
	}
	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("read compressed response: %w", err)
	}
	if err := zr.Close(); err != nil {
		return nil, fmt.Errorf("read compressed response: %w", err)
	}
	var resp models.SearchResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode compressed response: %w", err)
	}
	return &resp, nil
}

// Batches splits results into consecutive batches of at most MaxBatchSize.
func (o *Optimizer) Batches(results []models.SearchResult) []Batch {
	size := o.opts.MaxBatchSize
	total := (len(results) + size - 1) / size
	batches := make([]Batch, 0, total)
	for i := 0; i < len(results); i += size {
		end := i + size
		if end > len(results) {
			end = len(results)
		}
		idx := len(batches)
		batches = append(batches, Batch{
			Results:      results[i:end],
			BatchIndex:   idx,
			TotalBatches: total,
			BatchSize:    end - i,
			HasMore:      end < len(results),
		})
	}
	return batches
}

// Chunks splits results into streaming chunks of at most StreamChunkSize,
// each carrying the full result count.
func (o *Optimizer) Chunks(results []models.SearchResult, totalCount int) []Chunk {
	size := o.opts.StreamChunkSize
	total := (len(results) + size - 1) / size
	chunks := make([]Chunk, 0, total)
	for i := 0; i < len(results); i += size {
		end := i + size
		if end > len(results) {
			end = len(results)
		}
		chunks = append(chunks, Chunk{
			Results:     results[i:end],
			ChunkIndex:  len(chunks),
			TotalChunks: total,
			HasMore:     end < len(results),
			TotalCount:  totalCount,
		})
	}
	return chunks
}
