package export

import "fmt"

// Dataset defines tabular export content followed by an optional summary block.
type Dataset struct {
	Headers []string
	Rows    []map[string]string
	// Numeric lists headers rendered right-aligned.
	Numeric []string
	Summary []SummaryLine
}

// SummaryLine is a labelled figure printed under the table.
type SummaryLine struct {
	Label string
	Value string
}

func (d Dataset) validate(format string) error {
	if len(d.Headers) == 0 {
		return fmt.Errorf("%s requires at least one header", format)
	}
	return nil
}

func (d Dataset) isNumeric(header string) bool {
	for _, h := range d.Numeric {
		if h == header {
			return true
		}
	}
	return false
}
