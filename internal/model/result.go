package model

// SymbolResult is the per-symbol outcome of an orchestrator run.
type SymbolResult struct {
	Symbol       string   `json:"symbol"`
	Region       string   `json:"region"`
	Success      bool     `json:"success"`
	Error        string   `json:"error,omitempty"`
	BarsFetched  int      `json:"bars_fetched"`
	BarsWritten  int      `json:"bars_written"`
	BarsRejected int      `json:"bars_rejected"`
	RowsWritten  int      `json:"indicator_rows_written"`
	UpToDate     bool     `json:"up_to_date,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
}

// RunSummary aggregates a batch run so partial success stays visible.
type RunSummary struct {
	Results      []SymbolResult `json:"results"`
	SuccessCount int            `json:"success_count"`
	TotalSymbols int            `json:"total_symbols"`
	Skipped      bool           `json:"skipped,omitempty"`
}

// Summarize builds a RunSummary from results.
func Summarize(results []SymbolResult) RunSummary {
	s := RunSummary{Results: results, TotalSymbols: len(results)}
	for _, r := range results {
		if r.Success {
			s.SuccessCount++
		}
	}
	return s
}

// Failed returns the results that did not succeed.
func (s RunSummary) Failed() []SymbolResult {
	var out []SymbolResult
	for _, r := range s.Results {
		if !r.Success {
			out = append(out, r)
		}
	}
	return out
}
