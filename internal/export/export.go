// Package export turns a job's finalized answers into a downloadable document
// and optionally archives a copy.
package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"

	"go.uber.org/zap"

	"github.com/JakeFAU/qa-harvester/internal/harvest"
	"github.com/JakeFAU/qa-harvester/internal/logging"
	"github.com/JakeFAU/qa-harvester/internal/metrics"
)

// Config wires the export collaborators. Archive and Hasher are optional
// together: without an archive, documents are only returned.
type Config struct {
	Renderer harvest.Renderer
	Archive  harvest.BlobStore
	Hasher   harvest.Hasher
	// Prefix is the archive key prefix, "exports" when empty.
	Prefix string
	Logger *zap.Logger
}

// Service renders exports.
type Service struct {
	cfg    Config
	logger *zap.Logger
}

// New validates cfg and returns a Service.
func New(cfg Config) (*Service, error) {
	if cfg.Renderer == nil {
		return nil, errors.New("export renderer is required")
	}
	if cfg.Archive != nil && cfg.Hasher == nil {
		return nil, errors.New("export archive requires a hasher")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "exports"
	}
	return &Service{cfg: cfg, logger: logging.OrNop(cfg.Logger).Named("export")}, nil
}

// Triples maps answers to exported rows, preserving order.
func Triples(details []harvest.AnswerDetail) []harvest.QATriple {
	rows := make([]harvest.QATriple, 0, len(details))
	for _, d := range details {
		rows = append(rows, harvest.QATriple{Question: d.Question.Text, Answer: d.Text, Link: d.Question.Link})
	}
	return rows
}

// Build renders the answers of jobID. Zero answers is a validation error and
// renderer failures are export errors. Archive failures are logged only.
func (s *Service) Build(ctx context.Context, jobID string, details []harvest.AnswerDetail) (harvest.Document, error) {
	if len(details) == 0 {
		return harvest.Document{}, harvest.Validation("answers", "job has no answers to export")
	}
	data, err := s.cfg.Renderer.Render(ctx, Triples(details))
	if err != nil {
		metrics.ObserveExport("error", 0)
		return harvest.Document{}, harvest.Export("render document", err)
	}
	metrics.ObserveExport("success", len(data))
	doc := harvest.Document{
		Filename:    fmt.Sprintf("quora-qa-export-%s.%s", jobID, s.cfg.Renderer.Extension()),
		ContentType: s.cfg.Renderer.ContentType(),
		Data:        data,
	}
	if s.cfg.Archive != nil {
		uri, err := s.archive(ctx, jobID, doc)
		if err != nil {
			s.logger.Warn("export archive failed", logging.JobID(jobID), zap.Error(err))
		} else {
			doc.ArchiveURI = uri
		}
	}
	return doc, nil
}

func (s *Service) archive(ctx context.Context, jobID string, doc harvest.Document) (string, error) {
	sum, err := s.cfg.Hasher.Hash(doc.Data)
	if err != nil {
		return "", fmt.Errorf("hash document: %w", err)
	}
	key := path.Join(s.cfg.Prefix, jobID, sum+"."+s.cfg.Renderer.Extension())
	uri, err := s.cfg.Archive.PutObject(ctx, key, doc.ContentType, bytes.NewReader(doc.Data))
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	s.logger.Debug("export archived", logging.JobID(jobID), zap.String("uri", uri), zap.Int("bytes", len(doc.Data)))
	return uri, nil
}
