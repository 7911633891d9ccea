// Package export renders the cached day schedule as an Excel workbook.
package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/Lilanga/booking-pal/internal/models"

	"github.com/xuri/excelize/v2"
)

const SheetName = "Schedule"

var headers = []string{"Start", "End", "Title", "Organizer", "Status", "Event ID"}

// Schedule builds a workbook from a cached event set.
func Schedule(set models.CachedEventSet, room string, loc *time.Location) (*excelize.File, error) {
	if loc == nil {
		loc = time.Local
	}

	f := excelize.NewFile()
	index, err := f.NewSheet(SheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)

	title := room
	if set.HasData() {
		title = fmt.Sprintf("%s, synced %s", room, set.Timestamp.In(loc).Format("02.01.2006 15:04"))
	}
	_ = f.SetCellValue(SheetName, "A1", title)
	_ = f.MergeCell(SheetName, "A1", "F1")
	titleStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	_ = f.SetCellStyle(SheetName, "A1", "A1", titleStyle)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 2)
		_ = f.SetCellValue(SheetName, cell, h)
		_ = f.SetCellStyle(SheetName, cell, cell, headerStyle)
	}

	events := make([]models.Event, len(set.Events))
	copy(events, set.Events)
	models.SortByStart(events)

	for i, ev := range events {
		row := i + 3
		start, end := ev.Start.In(loc).Format("15:04"), ev.End.In(loc).Format("15:04")
		if ev.IsAllDay {
			start, end = "all day", ""
		}
		values := []interface{}{start, end, ev.Summary, ev.Organizer, ev.Status, ev.ID}
		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
			f.Close()
			return nil, fmt.Errorf("error writing row %d: %w", row, err)
		}
	}

	_ = f.SetColWidth(SheetName, "A", "B", 10)
	_ = f.SetColWidth(SheetName, "C", "C", 40)
	_ = f.SetColWidth(SheetName, "D", "D", 30)
	_ = f.SetColWidth(SheetName, "E", "E", 12)
	_ = f.SetColWidth(SheetName, "F", "F", 36)
	_ = f.DeleteSheet("Sheet1")

	return f, nil
}

// Write streams the workbook for set to w.
func Write(w io.Writer, set models.CachedEventSet, room string, loc *time.Location) error {
	f, err := Schedule(set, room, loc)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("error writing workbook: %w", err)
	}
	return nil
}

// Save writes the workbook under dir and returns its path.
func Save(dir string, set models.CachedEventSet, room string, loc *time.Location, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	f, err := Schedule(set, room, loc)
	if err != nil {
		return "", err
	}
	defer f.Close()

	path := filepath.Join(dir, fmt.Sprintf("schedule_%s.xlsx", now.Format("2006-01-02_150405")))
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}
	return path, nil
}
