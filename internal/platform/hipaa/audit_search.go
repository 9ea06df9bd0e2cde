package hipaa

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/ecgvault/ecgvault/pkg/pagination"
)

// MemoryAuditStore is an in-memory AuditStore for development and tests.
type MemoryAuditStore struct {
	mu      sync.RWMutex
	entries []*AuditEntry
}

func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{entries: make([]*AuditEntry, 0)}
}

// Append stores a copy of entry. Thread-safe.
func (s *MemoryAuditStore) Append(_ context.Context, entry *AuditEntry) error {
	cp := *entry
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, &cp)
	return nil
}

// Entries returns every stored entry in insertion order.
func (s *MemoryAuditStore) Entries() []*AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*AuditEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *MemoryAuditStore) Query(_ context.Context, q AuditQuery) (*AuditPage, error) {
	p := pagination.New(q.Page, q.PageSize)

	s.mu.RLock()
	var filtered []*AuditEntry
	for _, e := range s.entries {
		if matchEntry(e, q) {
			filtered = append(filtered, e)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Timestamp.After(filtered[j].Timestamp)
	})

	start, end := p.Window(len(filtered))
	entries := make([]*AuditEntry, 0, end-start)
	entries = append(entries, filtered[start:end]...)

	return newAuditPage(p, len(filtered), entries), nil
}

// matchEntry returns true if the entry matches all non-zero filter criteria.
func matchEntry(e *AuditEntry, q AuditQuery) bool {
	if !q.Scope.Unrestricted() && (e.TenantID == nil || !q.Scope.Contains(*e.TenantID)) {
		return false
	}
	if q.ActorID != "" && e.ActorID != q.ActorID {
		return false
	}
	if q.Action != "" && e.Action != q.Action {
		return false
	}
	if q.CollectionName != "" && e.CollectionName != q.CollectionName {
		return false
	}
	if q.DocumentID != nil && (e.DocumentID == nil || *e.DocumentID != *q.DocumentID) {
		return false
	}
	if q.From != nil && e.Timestamp.Before(*q.From) {
		return false
	}
	if q.To != nil && e.Timestamp.After(*q.To) {
		return false
	}
	return true
}

// MaxExportEntries bounds a single export.
const MaxExportEntries = 50000

// collectAll pages through store until q is exhausted or the export cap
// is reached.
func collectAll(ctx context.Context, store AuditStore, q AuditQuery) ([]*AuditEntry, error) {
	q.PageSize = pagination.MaxLimit
	entries := make([]*AuditEntry, 0)
	for q.Page = 1; ; q.Page++ {
		page, err := store.Query(ctx, q)
		if err != nil {
			return nil, err
		}
		entries = append(entries, page.Entries...)
		if !page.HasNext || len(page.Entries) == 0 || len(entries) >= MaxExportEntries {
			break
		}
	}
	if len(entries) > MaxExportEntries {
		entries = entries[:MaxExportEntries]
	}
	return entries, nil
}

var exportHeader = []string{"ID", "Timestamp", "ActorID", "Action", "Description",
	"Collection", "DocumentID", "TenantID", "IP", "UserAgent", "Before", "After"}

func exportRow(e *AuditEntry) []string {
	return []string{
		e.ID.String(),
		e.Timestamp.Format(time.RFC3339),
		e.ActorID,
		string(e.Action),
		e.Description,
		e.CollectionName,
		optionalID(e.DocumentID),
		optionalID(e.TenantID),
		e.IP,
		e.UserAgent,
		string(e.Before),
		string(e.After),
	}
}

// ExportCSV writes every entry matching q as CSV to w.
func ExportCSV(ctx context.Context, store AuditStore, q AuditQuery, w io.Writer) error {
	entries, err := collectAll(ctx, store, q)
	if err != nil {
		return fmt.Errorf("audit export csv: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return fmt.Errorf("audit export csv: write header: %w", err)
	}
	for _, e := range entries {
		if err := cw.Write(exportRow(e)); err != nil {
			return fmt.Errorf("audit export csv: write record: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportJSON writes every entry matching q as a JSON array to w.
func ExportJSON(ctx context.Context, store AuditStore, q AuditQuery, w io.Writer) error {
	entries, err := collectAll(ctx, store, q)
	if err != nil {
		return fmt.Errorf("audit export json: %w", err)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(entries); err != nil {
		return fmt.Errorf("audit export json: %w", err)
	}
	return nil
}

const xlsxSheet = "Audit Trail"

// ExportXLSX writes every entry matching q as a single-sheet workbook to w.
func ExportXLSX(ctx context.Context, store AuditStore, q AuditQuery, w io.Writer) error {
	entries, err := collectAll(ctx, store, q)
	if err != nil {
		return fmt.Errorf("audit export xlsx: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(xlsxSheet)
	if err != nil {
		return fmt.Errorf("audit export xlsx: create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("audit export xlsx: drop default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("audit export xlsx: header style: %w", err)
	}

	if err := f.SetSheetRow(xlsxSheet, "A1", &exportHeader); err != nil {
		return fmt.Errorf("audit export xlsx: write header: %w", err)
	}
	last, err := excelize.CoordinatesToCellName(len(exportHeader), 1)
	if err != nil {
		return fmt.Errorf("audit export xlsx: header range: %w", err)
	}
	if err := f.SetCellStyle(xlsxSheet, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("audit export xlsx: apply header style: %w", err)
	}

	for i, e := range entries {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("audit export xlsx: row %d: %w", i+2, err)
		}
		row := exportRow(e)
		if err := f.SetSheetRow(xlsxSheet, cell, &row); err != nil {
			return fmt.Errorf("audit export xlsx: write row %d: %w", i+2, err)
		}
	}

	if err := f.SetPanes(xlsxSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("audit export xlsx: freeze header: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("audit export xlsx: write workbook: %w", err)
	}
	return nil
}

func optionalID(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}
