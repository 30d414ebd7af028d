package converters

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/feichai0017/vectordocs/internal/models"
)

// SearchResult groups hits by the document they came from, keeping the
// order in which each document first appears.
type SearchResult struct {
	Query     string           `json:"query"`
	Hits      []models.Hit     `json:"hits"`
	Documents []DocumentResult `json:"documents"`
}

// DocumentResult 定义单个文档的命中结果
type DocumentResult struct {
	FileUUID uuid.UUID      `json:"fileUuid"`
	FileName string         `json:"fileName"`
	Pages    []int          `json:"pages"`
	Content  []ChunkContent `json:"content"`
}

// ChunkContent 定义文档块内容
type ChunkContent struct {
	Text       string  `json:"text"`
	Position   int     `json:"position"`
	PageNumber int     `json:"pageNumber"`
	Distance   float64 `json:"distance"`
}

// Fragment is one retrieved chunk as the model sees it.
type Fragment struct {
	FileUUID   string `json:"fileUuid"`
	FileName   string `json:"fileName"`
	PageNumber int    `json:"pageNumber"`
	Text       string `json:"text"`
}

// JSONConverter 实现结果转换
type JSONConverter struct{}

func NewJSONConverter() *JSONConverter {
	return &JSONConverter{}
}

// Convert builds the grouped search result. Position is the hit's rank.
func (c *JSONConverter) Convert(query string, hits []models.Hit) *SearchResult {
	result := &SearchResult{
		Query:     query,
		Hits:      hits,
		Documents: make([]DocumentResult, 0),
	}
	if result.Hits == nil {
		result.Hits = []models.Hit{}
	}

	index := make(map[uuid.UUID]int)
	for i, hit := range hits {
		pos, ok := index[hit.FileUUID]
		if !ok {
			pos = len(result.Documents)
			index[hit.FileUUID] = pos
			result.Documents = append(result.Documents, DocumentResult{
				FileUUID: hit.FileUUID,
				FileName: hit.FileName,
			})
		}

		doc := &result.Documents[pos]
		doc.Content = append(doc.Content, ChunkContent{
			Text:       hit.ChunkText,
			Position:   i + 1,
			PageNumber: hit.PageNumber,
			Distance:   hit.Distance,
		})
		if !containsInt(doc.Pages, hit.PageNumber) {
			doc.Pages = append(doc.Pages, hit.PageNumber)
		}
	}

	return result
}

// Fragments renders hits as the JSON array embedded in the answer prompt.
func (c *JSONConverter) Fragments(hits []models.Hit) (string, error) {
	fragments := make([]Fragment, 0, len(hits))
	for _, hit := range hits {
		fragments = append(fragments, Fragment{
			FileUUID:   hit.FileUUID.String(),
			FileName:   hit.FileName,
			PageNumber: hit.PageNumber,
			Text:       hit.ChunkText,
		})
	}

	data, err := json.MarshalIndent(fragments, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal fragments: %w", err)
	}
	return string(data), nil
}

func containsInt(values []int, v int) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
