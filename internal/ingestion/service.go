package ingestion

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Entity types accepted by the processor, in load order.
const (
	EntityCustomers    = "customers"
	EntityAccounts     = "accounts"
	EntityTransactions = "transactions"
)

// ProcessDataRequest hands raw rows of one entity type to the processor.
type ProcessDataRequest struct {
	Source     string
	EntityType string
	RawData    []map[string]interface{}
}

// Processor converts and stores raw rows, returning how many were stored.
type Processor interface {
	ProcessData(ctx context.Context, req ProcessDataRequest) (int, error)
}

// Summary counts the rows stored per entity type.
type Summary map[string]int

// Service loads raw CSV exports.
type Service struct {
	processor Processor
	logger    *zap.Logger
}

func NewService(processor Processor, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{processor: processor, logger: logger}
}

// ReadCSV reads a CSV file with a header row into header-keyed rows. Header
// names are trimmed and lower-cased.
func ReadCSV(path string) ([]map[string]interface{}, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer file.Close()
	return readCSV(file, path)
}

func readCSV(r io.Reader, name string) ([]map[string]interface{}, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	headers, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return []map[string]interface{}{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading header of %s: %w", name, err)
	}
	for i, h := range headers {
		headers[i] = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	}

	rows := make([]map[string]interface{}, 0)
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s line %d: %w", name, line, err)
		}
		row := make(map[string]interface{}, len(headers))
		for i, h := range headers {
			row[h] = strings.TrimSpace(record[i])
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// IngestFile reads one CSV file and passes its rows to the processor.
func (s *Service) IngestFile(ctx context.Context, entityType, path string) (int, error) {
	rows, err := ReadCSV(path)
	if err != nil {
		return 0, err
	}
	s.logger.Info("read raw rows", zap.String("entity_type", entityType), zap.String("path", path), zap.Int("rows", len(rows)))
	n, err := s.processor.ProcessData(ctx, ProcessDataRequest{Source: path, EntityType: entityType, RawData: rows})
	if err != nil {
		return 0, fmt.Errorf("processing %s from %s: %w", entityType, path, err)
	}
	return n, nil
}

// IngestDir loads customers.csv, accounts.csv and transactions.csv from dir
// in that order. customers.csv is required; the others are skipped when absent.
func (s *Service) IngestDir(ctx context.Context, dir string) (Summary, error) {
	summary := Summary{}
	for _, entity := range []string{EntityCustomers, EntityAccounts, EntityTransactions} {
		path := filepath.Join(dir, entity+".csv")
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			if entity == EntityCustomers {
				return summary, fmt.Errorf("ingesting %s: %w", dir, err)
			}
			s.logger.Warn("raw export not found, skipping", zap.String("path", path))
			continue
		}
		n, err := s.IngestFile(ctx, entity, path)
		if err != nil {
			return summary, err
		}
		summary[entity] = n
	}
	s.logger.Info("ingestion complete", zap.String("dir", dir), zap.Any("stored", summary))
	return summary, nil
}
