// Package export renders a campaign's send log as a flat table and archives
// it to S3.
package export

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/ignite/campaign-dispatch/internal/domain"
)

// Header is the column order of an exported send log.
var Header = []string{
	"seq", "attempted_at", "recipient_id", "email", "subject",
	"outcome", "provider_message_id", "error_class", "error",
}

// WriteCSV writes entries in the order given, normally append order.
func WriteCSV(w io.Writer, entries []domain.SendLogEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for i := range entries {
		e := &entries[i]
		if err := cw.Write([]string{
			strconv.FormatInt(e.Seq, 10),
			e.AttemptedAt.UTC().Format(time.RFC3339),
			e.RecipientID,
			cell(e.Email),
			cell(e.Subject),
			string(e.Outcome),
			e.ProviderMessageID,
			e.ErrorClass,
			cell(e.ErrorMessage),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// cell neutralises values a spreadsheet would evaluate as a formula.
func cell(v string) string {
	if v != "" && strings.ContainsRune("=+-@\t\r", rune(v[0])) {
		return "'" + v
	}
	return v
}
