// internal/search/indexer.go
// Package search mirrors finished qualification analyses into Elasticsearch
// so operators can query them by client, agent, or summary text.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8"

	"intake-engine/internal/common/logger"
	"intake-engine/internal/models"
)

// Indexer writes analysis documents into a single index. Indexing is
// best-effort: Postgres stays the source of truth and index failures never
// fail the pipeline.
type Indexer struct {
	es     *elasticsearch.Client
	index  string
	logger logger.Logger
}

func NewIndexer(es *elasticsearch.Client, index string, log logger.Logger) *Indexer {
	return &Indexer{
		es:     es,
		index:  index,
		logger: log.WithFields(map[string]interface{}{"component": "search-indexer"}),
	}
}

// IndexAnalysis upserts one analysis document keyed by submission id.
func (i *Indexer) IndexAnalysis(ctx context.Context, a *models.QualificationAnalysis) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal analysis %s: %w", a.ID, err)
	}

	res, err := i.es.Index(
		i.index,
		bytes.NewReader(body),
		i.es.Index.WithDocumentID(a.SubmissionID),
		i.es.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("index analysis %s: %w", a.ID, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("index analysis %s: %s", a.ID, res.Status())
	}

	i.logger.Debug("analysis indexed", map[string]interface{}{
		"submissionId": a.SubmissionID,
		"index":        i.index,
	})
	return nil
}
