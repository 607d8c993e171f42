package triallog

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// FormatTable writes rows as a table and returns the number written.
func FormatTable(w io.Writer, rows []Row, source string) int {
	if len(rows) == 0 {
		fmt.Fprintf(w, "No trials found in '%s'\n", source)
		return 0
	}

	fmt.Fprintf(w, "Trials in '%s':\n\n", source)

	fmt.Fprintf(w, "%-10s %-8s %-8s %-19s %-7s %-7s %-5s %-17s\n",
		"ID", "MOUSE", "LEVEL", "START", "STIMS", "VALUE", "LICKS", "SCORE")
	fmt.Fprintf(w, "%-10s %-8s %-8s %-19s %-7s %-7s %-5s %-17s\n",
		"----------", "--------", "--------", "-------------------", "-------", "-------", "-----", "-----------------")

	for _, r := range rows {
		fmt.Fprintf(w, "%-10s %-8s %-8s %-19s %-7s %-7s %-5d %-17s\n",
			formatID(r.ID),
			orDash(r.Subject),
			orDash(r.Level),
			formatStart(r.Start),
			fmt.Sprintf("%d>%d", r.FirstStim, r.SecondStim),
			orDash(string(r.Type)),
			len(r.LickTimes),
			orDash(string(r.Score)),
		)
	}

	noun := "trial"
	if len(rows) != 1 {
		noun = "trials"
	}
	fmt.Fprintf(w, "\n%d %s found\n", len(rows), noun)

	return len(rows)
}

// FormatJSONL writes one JSON object per row.
func FormatJSONL(w io.Writer, rows []Row) error {
	for _, r := range rows {
		data, err := json.Marshal(jsonRow{Row: r, LickSeconds: seconds(r.LickTimes)})
		if err != nil {
			return fmt.Errorf("failed to marshal trial to JSON: %w", err)
		}
		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

// jsonRow reports lick times in seconds rather than nanoseconds.
type jsonRow struct {
	Row
	LickSeconds []float64 `json:"licks_time"`
}

func seconds(ds []time.Duration) []float64 {
	out := make([]float64, len(ds))
	for i, d := range ds {
		out[i] = d.Seconds()
	}
	return out
}

// formatID truncates a trial ID to its first 8 characters.
func formatID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatStart(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
