// Package bulkimport parses operator-supplied batch files describing
// service accounts to create, in CSV or JSON form.
package bulkimport

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	kwerrors "github.com/systmms/keywarden/internal/errors"
	"github.com/systmms/keywarden/pkg/rotation"
)

// csvColumns is the required header, in order.
var csvColumns = []string{
	"username",
	"purpose",
	"role",
	"requestor_name",
	"requestor_email",
	"business_justification",
	"expiry_days",
}

// ParseCSV reads a batch of issuance requests from CSV. The header row
// is mandatory and must match the template exactly; rows with a blank
// username or a non-numeric expiry are rejected with the row number in
// the error.
func ParseCSV(r io.Reader) ([]rotation.GenerateRequest, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, kwerrors.New(kwerrors.KindInvalidParameter, "", "empty CSV input")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	if err := validateHeader(header); err != nil {
		return nil, err
	}

	var requests []rotation.GenerateRequest
	seen := make(map[string]int)
	row := 1
	for {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		row++
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row %d: %w", row, err)
		}

		req, err := parseRow(fields, row)
		if err != nil {
			return nil, err
		}
		if prior, dup := seen[req.Username]; dup {
			return nil, kwerrors.New(kwerrors.KindDuplicateUsername, req.Username,
				"row %d duplicates row %d", row, prior)
		}
		seen[req.Username] = row
		requests = append(requests, req)
	}

	if len(requests) == 0 {
		return nil, kwerrors.New(kwerrors.KindInvalidParameter, "", "CSV contains no account rows")
	}
	return requests, nil
}

func validateHeader(header []string) error {
	if len(header) != len(csvColumns) {
		return kwerrors.New(kwerrors.KindInvalidParameter, "",
			"CSV header has %d columns, want %d (%s)", len(header), len(csvColumns), strings.Join(csvColumns, ","))
	}
	for i, want := range csvColumns {
		if strings.TrimSpace(strings.ToLower(header[i])) != want {
			return kwerrors.New(kwerrors.KindInvalidParameter, "",
				"CSV column %d is %q, want %q", i+1, header[i], want)
		}
	}
	return nil
}

func parseRow(fields []string, row int) (rotation.GenerateRequest, error) {
	var req rotation.GenerateRequest
	if len(fields) != len(csvColumns) {
		return req, kwerrors.New(kwerrors.KindInvalidParameter, "",
			"row %d has %d fields, want %d", row, len(fields), len(csvColumns))
	}

	username := strings.TrimSpace(fields[0])
	if username == "" {
		return req, kwerrors.New(kwerrors.KindInvalidParameter, "", "row %d has an empty username", row)
	}

	expiryDays := 0
	if raw := strings.TrimSpace(fields[6]); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return req, kwerrors.New(kwerrors.KindInvalidParameter, username,
				"row %d has non-numeric expiry_days %q", row, raw)
		}
		expiryDays = n
	}

	return rotation.GenerateRequest{
		Username:              username,
		Purpose:               strings.TrimSpace(fields[1]),
		Role:                  strings.TrimSpace(fields[2]),
		RequestorName:         strings.TrimSpace(fields[3]),
		RequestorEmail:        strings.TrimSpace(fields[4]),
		BusinessJustification: strings.TrimSpace(fields[5]),
		ValidityDays:          expiryDays,
	}, nil
}

// WriteTemplate writes the CSV template operators fill in, with two
// example rows.
func WriteTemplate(w io.Writer) error {
	writer := csv.NewWriter(w)
	rows := [][]string{
		csvColumns,
		{"svc_tableau_prod", "Tableau dashboards", "REPORTING_RO", "Jane Smith", "jane.smith@example.com", "Quarterly revenue reporting", "90"},
		{"svc_airflow_etl", "Airflow ETL", "ETL_WRITER", "Ade Okoro", "ade.okoro@example.com", "Nightly warehouse loads", "180"},
	}
	for _, row := range rows {
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV template: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}
