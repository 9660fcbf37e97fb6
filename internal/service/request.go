package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/egldtax/internal/codec"
	"github.com/alanyoungcy/egldtax/internal/domain"
)

// ParseRequest validates raw report parameters in a fixed order: required
// fields, wallet format, date syntax, then range. Dates are RFC3339 or
// YYYY-MM-DD (UTC); a date-only upper bound covers that whole day. An empty
// clientID gets a generated one. Errors wrap domain.ErrInvalidRequest.
func ParseRequest(wallet, from, to, clientID string) (domain.ReportRequest, error) {
	wallet = strings.TrimSpace(wallet)
	from = strings.TrimSpace(from)
	to = strings.TrimSpace(to)

	var missing []string
	if wallet == "" {
		missing = append(missing, "walletAddress")
	}
	if from == "" {
		missing = append(missing, "fromDate")
	}
	if to == "" {
		missing = append(missing, "toDate")
	}
	if len(missing) > 0 {
		return domain.ReportRequest{}, fmt.Errorf("%w: missing required fields: %s",
			domain.ErrInvalidRequest, strings.Join(missing, ", "))
	}

	if !codec.ValidateWalletAddress(wallet) {
		return domain.ReportRequest{}, fmt.Errorf("%w: invalid wallet address", domain.ErrInvalidRequest)
	}

	fromTime, _, err := parseDate(from)
	if err != nil {
		return domain.ReportRequest{}, fmt.Errorf("%w: invalid fromDate %q", domain.ErrInvalidRequest, from)
	}
	toTime, dateOnly, err := parseDate(to)
	if err != nil {
		return domain.ReportRequest{}, fmt.Errorf("%w: invalid toDate %q", domain.ErrInvalidRequest, to)
	}
	if dateOnly {
		toTime = toTime.Add(24*time.Hour - time.Second)
	}
	if fromTime.After(toTime) {
		return domain.ReportRequest{}, fmt.Errorf("%w: fromDate must not be after toDate", domain.ErrInvalidRequest)
	}

	if clientID = strings.TrimSpace(clientID); clientID == "" {
		clientID = uuid.NewString()
	}
	return domain.ReportRequest{
		Wallet:   wallet,
		From:     fromTime,
		To:       toTime,
		ClientID: clientID,
	}, nil
}

var localLayouts = []string{"2006-01-02T15:04:05.999999999", "2006-01-02T15:04"}

func parseDate(s string) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), false, nil
	}
	// No offset means UTC.
	for _, layout := range localLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, false, nil
		}
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}
