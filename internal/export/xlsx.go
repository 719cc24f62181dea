// Package export renders the audit trail as a spreadsheet for offline review.
package export

import (
	"io"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/governance-engine/internal/model"
)

// Sheet names in the exported workbook.
const (
	SheetAdjustments = "adjustments"
	SheetSettings    = "settings"
)

var adjustmentHeader = []string{
	"id", "rule_id", "candidate_id", "target_parameter", "method",
	"previous_value", "new_value", "reason", "applied_at", "reverted_at",
}

var settingsHeader = []string{"key", "value", "updated_at"}

// Workbook is the content of an audit export.
type Workbook struct {
	Logs     []model.AdjustmentLog
	Settings []model.Setting
}

// Write encodes wb as an XLSX file to w.
func Write(w io.Writer, wb Workbook) error {
	f := xlsx.NewFile()

	logs, err := f.AddSheet(SheetAdjustments)
	if err != nil {
		return eris.Wrap(err, "export: add adjustments sheet")
	}
	addRow(logs, adjustmentHeader)
	for _, l := range wb.Logs {
		prev := ""
		if l.PreviousValue != nil {
			prev = l.PreviousValue.String()
		}
		reverted := ""
		if l.RevertedAt != nil {
			reverted = l.RevertedAt.UTC().Format(time.RFC3339)
		}
		addRow(logs, []string{
			l.ID, deref(l.RuleID), deref(l.CandidateID), l.TargetParameter, string(l.Method),
			prev, l.NewValue.String(), l.Reason, l.AppliedAt.UTC().Format(time.RFC3339), reverted,
		})
	}

	settings, err := f.AddSheet(SheetSettings)
	if err != nil {
		return eris.Wrap(err, "export: add settings sheet")
	}
	addRow(settings, settingsHeader)
	for _, s := range wb.Settings {
		addRow(settings, []string{s.Key, s.Value.String(), s.UpdatedAt.UTC().Format(time.RFC3339)})
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "export: write workbook")
	}
	return nil
}

func addRow(sheet *xlsx.Sheet, cells []string) {
	row := sheet.AddRow()
	for _, c := range cells {
		row.AddCell().SetString(c)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
