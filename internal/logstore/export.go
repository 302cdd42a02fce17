package logstore

import (
	"encoding/json"
	"fmt"

	"github.com/man4korea/kdv-erp/internal/model"
)

// Export serializes every entry matching filter, most recent first.
func (s *Store) Export(filter model.LogFilter) ([]byte, error) {
	logs := Collect(s.Query(filter), 0)
	doc := model.ExportDocument{
		ExportTime: s.clock.Now(),
		TotalCount: len(logs),
		Logs:       logs,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("logstore: encode export: %w", err)
	}
	return data, nil
}

// DecodeExport parses a document produced by Export.
func DecodeExport(data []byte) (model.ExportDocument, error) {
	var doc model.ExportDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return model.ExportDocument{}, fmt.Errorf("logstore: decode export: %w", err)
	}
	if doc.Logs == nil {
		doc.Logs = []model.LogEntry{}
	}
	return doc, nil
}
