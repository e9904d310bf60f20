package payment

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

var approvedCSVHeader = []string{"id", "tutor_module_id", "type", "amount", "approved_by", "approved_on"}

// ApprovedCSV writes payments as CSV, one row per payment, for the payroll team.
func ApprovedCSV(payments []TutorPayment) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(approvedCSVHeader); err != nil {
		return nil, errors.Wrap(err, "writing csv header")
	}
	for _, p := range payments {
		var approvedOn string
		if p.ApprovedOn.Valid {
			approvedOn = p.ApprovedOn.Time.UTC().Format(time.RFC3339)
		}
		row := []string{
			strconv.Itoa(p.ID),
			strconv.Itoa(p.TutorModuleID),
			p.Type,
			p.Amount.StringFixed(2),
			p.ApprovedBy.String,
			approvedOn,
		}
		if err := w.Write(row); err != nil {
			return nil, errors.Wrapf(err, "writing csv row for payment %d", p.ID)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, errors.Wrap(err, "flushing csv")
	}
	return buf.Bytes(), nil
}
