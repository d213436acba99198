// Package document freezes a prescription draft into a canonical rendered
// view and rasterizes it into the multi-page PDF operators review before
// submission. The snapshot is captured once at confirmation-open; later
// draft edits never leak into an already-rendered document.
package document

import (
	"fmt"
	"time"

	"github.com/vitalpath/rxbridge/internal/dosage"
	"github.com/vitalpath/rxbridge/internal/draft"
	"github.com/vitalpath/rxbridge/internal/pharmacy"
)

// Line is one labeled row in the script block.
type Line struct {
	Label string
	Value string
}

// Snapshot is the frozen canonical view of a draft. It carries everything
// the renderer needs so rendering never touches live session state.
type Snapshot struct {
	Pharmacy draft.Pharmacy

	PrescriberName string
	PrescriberNPI  string

	PatientName  string
	PatientDOB   string
	PatientAddr  []string
	PatientPhone string

	Script []Line

	// SignedAt is the signature-footer timestamp, already shifted into
	// the fixed display timezone.
	SignedAt time.Time
}

// signatureLocation is the fixed timezone for the signature footer. The
// rendered timestamp must not depend on where the server happens to run.
func signatureLocation() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.UTC
	}
	return loc
}

// BuildSnapshot freezes a draft into its canonical view. The rules argument
// selects the pharmacy-conditional script lines: Boothwyn omits the Refills
// line and shows Order Type, Valiant shows the administration route.
func BuildSnapshot(d *draft.Draft, rules pharmacy.DocumentRules, now time.Time) *Snapshot {
	snap := &Snapshot{
		Pharmacy:       d.Pharmacy,
		PrescriberName: fmt.Sprintf("%s %s", d.Prescriber.FirstName, d.Prescriber.LastName),
		PrescriberNPI:  d.Prescriber.NPI,
		PatientName:    fmt.Sprintf("%s %s", d.Patient.FirstName, d.Patient.LastName),
		PatientDOB:     d.Patient.DateOfBirth,
		PatientPhone:   d.Patient.Phone,
		SignedAt:       now.In(signatureLocation()),
	}

	snap.PatientAddr = append(snap.PatientAddr, d.Patient.Address1)
	if d.Patient.Address2 != "" {
		snap.PatientAddr = append(snap.PatientAddr, d.Patient.Address2)
	}
	snap.PatientAddr = append(snap.PatientAddr,
		fmt.Sprintf("%s, %s %s", d.Patient.City, d.Patient.ShippingState, d.Patient.Zip))

	snap.Script = scriptLines(d, rules)
	return snap
}

func scriptLines(d *draft.Draft, rules pharmacy.DocumentRules) []Line {
	lines := []Line{
		{Label: "Drug", Value: d.ProductName},
		{Label: "Rx Type", Value: string(d.RxType)},
	}
	if d.RxType == draft.RxTypeRefill && d.RxNumber != "" {
		lines = append(lines, Line{Label: "Rx Number", Value: d.RxNumber})
	}
	lines = append(lines,
		Line{Label: "Strength", Value: d.Strength},
		Line{Label: "Quantity", Value: quantityLine(d)},
	)
	if rules.ShowRoute && d.Route != "" {
		lines = append(lines, Line{Label: "Route", Value: d.Route})
		if d.StartingDose != "" {
			lines = append(lines, Line{Label: "Starting Dose", Value: d.StartingDose})
		}
	}
	if rules.ShowOrderType && d.OrderType != "" {
		lines = append(lines, Line{Label: "Order Type", Value: string(d.OrderType)})
	}
	if !rules.OmitRefills {
		lines = append(lines, Line{Label: "Refills", Value: d.Refills})
	}
	lines = append(lines,
		Line{Label: "Days Supply", Value: fmt.Sprintf("%d", d.DaysSupply)},
		Line{Label: "Total", Value: totalLine(d)},
		Line{Label: "Directions", Value: d.Directions},
	)
	if d.ClinicalNotes != "" {
		lines = append(lines, Line{Label: "Clinical Notes", Value: d.ClinicalNotes})
	}
	lines = append(lines, Line{Label: "Date Written", Value: d.DateWritten.Format("January 2, 2006")})
	return lines
}

// quantityLine renders each populated vial set as "count x size units".
func quantityLine(d *draft.Draft) string {
	display := dosage.VialDisplay(d.QuantityUnits, d.PresentVialSets()...)
	if display == "" {
		return d.PrimaryQuantity()
	}
	return display
}

func totalLine(d *draft.Draft) string {
	if d.TotalMG == "" {
		return fmt.Sprintf("%.2f %s", d.TotalML, dosage.DefaultUnits)
	}
	return fmt.Sprintf("%s (%.2f %s)", d.TotalMG, d.TotalML, dosage.DefaultUnits)
}
