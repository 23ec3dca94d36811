package rollup

import (
	"fmt"
	"strings"

	"github.com/cleared-dev/entrysync/internal/model"
)

// ValidationError describes a structural problem with an entry's lines.
type ValidationError struct {
	Rule        string
	Key         string
	Description string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s [%s]: %s", e.Rule, e.Key, e.Description)
}

// ValidationErrors joins several problems into one error.
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// ValidateEntry checks that e can be rolled up.
func ValidateEntry(e *model.Entry) []ValidationError {
	var errs []ValidationError

	if strings.TrimSpace(e.EntryNumber) == "" {
		errs = append(errs, ValidationError{
			Rule:        "entry-number",
			Key:         fmt.Sprint(e.ID),
			Description: "entry has no entry number",
		})
	}
	if len(e.Lines) == 0 {
		errs = append(errs, ValidationError{
			Rule:        "lines",
			Key:         e.EntryNumber,
			Description: "entry has no tariff lines",
		})
	}

	for _, l := range e.Lines {
		if l.Key.EntryNumber != e.EntryNumber {
			errs = append(errs, ValidationError{
				Rule:        "entry-number",
				Key:         l.Key.String(),
				Description: fmt.Sprintf("line belongs to entry %q, not %q", l.Key.EntryNumber, e.EntryNumber),
			})
		}
		if l.Key.CustomsLine <= 0 {
			errs = append(errs, ValidationError{
				Rule:        "customs-line",
				Key:         l.Key.String(),
				Description: fmt.Sprintf("customs line %d must be positive", l.Key.CustomsLine),
			})
		}
		for _, p := range l.PGA {
			if p.AgencyCode == "" {
				errs = append(errs, ValidationError{
					Rule:        "pga",
					Key:         l.Key.String(),
					Description: "PGA row has no agency code",
				})
			}
		}
	}

	return errs
}
