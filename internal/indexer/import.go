package indexer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dshills/medcode-resolver/pkg/types"
)

// Corpus CSV columns. code_system, code_value, country_code and display_name
// are required; the rest are optional.
var importColumns = []string{
	"code_system", "code_value", "country_code", "display_name",
	"search_text", "entity_type", "active",
}

var requiredImportColumns = importColumns[:4]

// ImportOptions configures ImportCSV
type ImportOptions struct {
	Comma     rune // Field delimiter (default ',')
	BatchSize int  // Rows committed per transaction (default: 500)

	// Defaults fill empty cells
	DefaultCodeSystem  string
	DefaultCountryCode string
}

// ImportStats summarizes an import
type ImportStats struct {
	Rows          int      `json:"rows"`
	Upserted      int      `json:"upserted"`
	Invalid       int      `json:"invalid"`
	ErrorMessages []string `json:"errors,omitempty"`
}

// ImportCSV loads or refreshes corpus rows from a header-led CSV. Rows whose
// display name changed lose their normalized text and embedding, so the next
// NormalizeCorpus/EmbedCorpus run picks them up. Invalid rows are reported
// and skipped.
func (idx *Indexer) ImportCSV(ctx context.Context, r io.Reader, opts ImportOptions) (*ImportStats, error) {
	if !idx.lock.TryAcquire() {
		return nil, ErrJobRunning
	}
	defer idx.lock.Release()

	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}

	reader := csv.NewReader(r)
	if opts.Comma != 0 {
		reader.Comma = opts.Comma
	}
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("empty corpus file")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols, err := resolveColumns(header)
	if err != nil {
		return nil, err
	}

	stats := &ImportStats{}
	batch := make([]*types.CodeEntry, 0, opts.BatchSize)
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return stats, fmt.Errorf("read line %d: %w", line, err)
		}
		stats.Rows++

		entry, err := entryFromRecord(record, cols, opts)
		if err == nil {
			err = entry.Validate()
		}
		if err != nil {
			stats.Invalid++
			stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("line %d: %v", line, err))
			continue
		}

		batch = append(batch, entry)
		if len(batch) >= opts.BatchSize {
			if err := idx.commitImport(ctx, batch, stats); err != nil {
				return stats, err
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := idx.commitImport(ctx, batch, stats); err != nil {
			return stats, err
		}
	}

	idx.logger.Info().
		Int("rows", stats.Rows).
		Int("upserted", stats.Upserted).
		Int("invalid", stats.Invalid).
		Msg("corpus import finished")
	return stats, nil
}

// commitImport upserts one batch inside a transaction
func (idx *Indexer) commitImport(ctx context.Context, batch []*types.CodeEntry, stats *ImportStats) error {
	tx, err := idx.storage.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, entry := range batch {
		if err := tx.UpsertCodeEntry(ctx, entry); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	stats.Upserted += len(batch)
	return nil
}

func resolveColumns(header []string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, cell := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(cell, "\ufeff")))
		cols[name] = i
	}
	var missing []string
	for _, name := range requiredImportColumns {
		if _, ok := cols[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("corpus header missing columns: %s", strings.Join(missing, ", "))
	}
	return cols, nil
}

func entryFromRecord(record []string, cols map[string]int, opts ImportOptions) (*types.CodeEntry, error) {
	cell := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	entry := &types.CodeEntry{
		CodeSystem:  cell("code_system"),
		CodeValue:   cell("code_value"),
		CountryCode: strings.ToUpper(cell("country_code")),
		DisplayName: cell("display_name"),
		SearchText:  cell("search_text"),
		EntityType:  types.EntityType(strings.ToLower(cell("entity_type"))),
		Active:      true,
	}
	if entry.CodeSystem == "" {
		entry.CodeSystem = opts.DefaultCodeSystem
	}
	if entry.CountryCode == "" {
		entry.CountryCode = strings.ToUpper(opts.DefaultCountryCode)
	}
	if v := cell("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid active value %q", v)
		}
		entry.Active = active
	}
	return entry, nil
}
