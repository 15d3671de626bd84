// Package export renders patient lists as xlsx workbooks for download.
package export

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/samber/lo"
	"github.com/xuri/excelize/v2"

	"github.com/stopka007/IoT-sub000/internal/models"
)

const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var (
	patientHeader  = []string{"id_patient", "name", "room", "id_device", "illness", "age", "status", "notes", "createdAt"}
	archivedHeader = []string{"id_patient", "name", "room", "id_device", "illness", "age", "status", "notes", "createdAt", "archivedAt", "archivedBy"}
)

// Patients renders active patients into a single "Patients" sheet.
func Patients(patients []models.Patient) (*bytes.Buffer, error) {
	rows := lo.Map(patients, func(p models.Patient, _ int) []any {
		return []any{
			p.IDPatient, p.Name, intCell(p.Room), strCell(p.IDDevice), strCell(p.Illness),
			intCell(p.Age), strCell(p.Status), strCell(p.Notes), timeCell(p.CreatedAt),
		}
	})
	return render("Patients", patientHeader, rows)
}

// ArchivedPatients renders archive records into an "Archive" sheet.
func ArchivedPatients(records []models.ArchivedPatient) (*bytes.Buffer, error) {
	rows := lo.Map(records, func(p models.ArchivedPatient, _ int) []any {
		return []any{
			p.IDPatient, p.Name, intCell(p.Room), strCell(p.IDDevice), strCell(p.Illness),
			intCell(p.Age), strCell(p.Status), strCell(p.Notes), timeCell(p.CreatedAt),
			timeCell(p.ArchivedAt), p.ArchivedBy,
		}
	})
	return render("Archive", archivedHeader, rows)
}

func render(sheet string, header []string, rows [][]any) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	headerCells := lo.Map(header, func(h string, _ int) any { return h })
	if err := f.SetSheetRow(sheet, "A1", &headerCells); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if err := f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, fmt.Errorf("freeze header: %w", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf, nil
}

func strCell(v *string) any {
	if v == nil {
		return ""
	}
	return *v
}

func intCell(v *int) any {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func timeCell(t time.Time) any {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
