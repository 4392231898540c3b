package moderation

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"time"
)

// CSVHeader is the first row of every journal export.
var CSVHeader = []string{"Timestamp", "Action Type", "User ID", "Details"}

// WriteCSV serializes seq as CSV.
func WriteCSV(w io.Writer, seq iter.Seq[Action]) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for a := range seq {
		row := []string{a.Timestamp.UTC().Format(time.RFC3339), a.Type.String(), a.UserID, a.Details()}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row %s: %w", a.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON serializes seq as a JSON array.
func WriteJSON(w io.Writer, seq iter.Seq[Action]) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(Collect(seq))
}
