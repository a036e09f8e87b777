package clinic

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// exportDateLayout renders dates like "Jul 1, 2025, 10:00 AM".
const exportDateLayout = "Jan 2, 2006, 3:04 PM"

var exportHeader = []string{"Title", "Date", "Status", "Cost"}

// WriteCalendarCSV writes events as the calendar export sheet.
func WriteCalendarCSV(w io.Writer, events []CalendarEvent) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, e := range events {
		row := []string{
			e.Title,
			e.Start.Format(exportDateLayout),
			string(e.Status),
			"₹" + strconv.FormatFloat(float64(e.Cost), 'f', -1, 64),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row %s: %w", e.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
