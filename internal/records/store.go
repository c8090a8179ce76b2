package records

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"fieldmv/internal/errors"
)

// Columns is the fixed column order of the flat change-record table.
var Columns = []string{
	"change_id", "old_name", "new_name", "item_kind", "unit", "entity",
	"change_scope", "impact_kind", "locating_context", "confidence",
	"parent_change_id", "validation_status",
}

// Store reads and writes the flat change-record table.
type Store struct{}

// NewStore creates a change-record store.
func NewStore() *Store {
	return &Store{}
}

// Load reads the table at path, validates every row, and returns only
// records whose status permits application (approved or auto_approved). A
// malformed row fails the whole load with its row index: partial data must
// never silently produce an incomplete rename set.
func (s *Store) Load(path string) ([]ChangeRecord, error) {
	all, err := s.LoadAll(path)
	if err != nil {
		return nil, err
	}
	out := make([]ChangeRecord, 0, len(all))
	for _, r := range all {
		if r.Approved() {
			out = append(out, r)
		}
	}
	return out, nil
}

// LoadAll reads and validates the full table regardless of status. The
// decision step operates on this complete picture.
func (s *Store) LoadAll(path string) ([]ChangeRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.New(errors.RecordTableMalformed, "cannot open change-record table", err)
	}
	defer f.Close()
	return s.Read(f)
}

// Read parses the table from a reader.
func (s *Store) Read(r io.Reader) ([]ChangeRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Columns)

	header, err := cr.Read()
	if err != nil {
		return nil, errors.New(errors.RecordTableMalformed, "missing header row", err)
	}
	for i, col := range Columns {
		if header[i] != col {
			return nil, errors.New(errors.RecordTableMalformed,
				fmt.Sprintf("header column %d is %q, want %q", i, header[i], col), nil)
		}
	}

	var out []ChangeRecord
	for row := 1; ; row++ {
		fields, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.New(errors.RecordTableMalformed,
				fmt.Sprintf("row %d unreadable", row), err)
		}

		conf, err := strconv.ParseFloat(fields[9], 64)
		if err != nil {
			return nil, errors.New(errors.RecordTableMalformed,
				fmt.Sprintf("row %d: bad confidence %q", row, fields[9]), err)
		}

		rec := ChangeRecord{
			ChangeID:         fields[0],
			OldName:          fields[1],
			NewName:          fields[2],
			ItemKind:         ItemKind(fields[3]),
			Unit:             fields[4],
			Entity:           fields[5],
			ChangeScope:      ChangeScope(fields[6]),
			ImpactKind:       ImpactKind(fields[7]),
			LocatingContext:  fields[8],
			Confidence:       conf,
			ParentChangeID:   fields[10],
			ValidationStatus: ValidationStatus(fields[11]),
		}
		if err := rec.Validate(); err != nil {
			return nil, errors.New(errors.RecordTableMalformed,
				fmt.Sprintf("row %d: %v", row, err), nil)
		}
		out = append(out, rec)
	}

	return out, nil
}

// Save writes the full unfiltered set, pending and rejected included, so
// the decision step can see the complete picture.
func (s *Store) Save(recs []ChangeRecord, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := s.Write(recs, f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Write serializes records to a writer in the fixed column order.
// Confidence carries fixed 3-decimal precision; empty locating_context and
// parent_change_id are written as empty fields, never omitted.
func (s *Store) Write(recs []ChangeRecord, w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	for _, r := range recs {
		row := []string{
			r.ChangeID,
			r.OldName,
			r.NewName,
			string(r.ItemKind),
			r.Unit,
			r.Entity,
			string(r.ChangeScope),
			string(r.ImpactKind),
			r.LocatingContext,
			strconv.FormatFloat(r.Confidence, 'f', 3, 64),
			r.ParentChangeID,
			string(r.ValidationStatus),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
