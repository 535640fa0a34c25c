package backtest

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

var csvHeader = []string{
	"day", "strategy", "entry_time", "exit_time", "expiry", "spot", "vix",
	"entry_premium", "exit_premium", "gross_pnl", "charges", "pnl", "exit_reason", "adjusted", "legs",
}

// WriteCSV writes one row per trade. Legs are embedded as JSON.
func WriteCSV(w io.Writer, rep *Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	money := func(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }
	for _, t := range rep.Trades {
		legs, err := json.Marshal(t.Legs)
		if err != nil {
			return fmt.Errorf("encoding legs for %s: %w", t.Day, err)
		}
		row := []string{
			t.Day,
			t.Strategy,
			t.EntryTime.Format("15:04"),
			t.ExitTime.Format("15:04"),
			t.Expiry,
			money(t.Spot),
			money(t.VIX),
			money(t.EntryPremium),
			money(t.ExitPremium),
			money(t.GrossPnL),
			money(t.Charges),
			money(t.PnL),
			string(t.ExitReason),
			strconv.FormatBool(t.Adjusted),
			string(legs),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteEquityCSV writes the equity curve, one point per trade plus the starting capital.
func WriteEquityCSV(w io.Writer, rep *Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"index", "capital"}); err != nil {
		return err
	}
	for i, v := range rep.EquityCurve {
		if err := cw.Write([]string{strconv.Itoa(i), strconv.FormatFloat(v, 'f', 2, 64)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON writes the full report.
func WriteJSON(w io.Writer, rep *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

// Export writes trades CSV, report JSON and equity CSV into dir and returns the file paths.
func Export(dir string, rep *Report) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating export directory: %w", err)
	}
	stamp := rep.RanAt.Format("20060102_150405")
	if rep.RanAt.IsZero() {
		stamp = time.Now().Format("20060102_150405")
	}
	files := []struct {
		name  string
		write func(io.Writer, *Report) error
	}{
		{fmt.Sprintf("trades_%s_%s.csv", rep.Strategy, stamp), WriteCSV},
		{fmt.Sprintf("report_%s_%s.json", rep.Strategy, stamp), WriteJSON},
		{fmt.Sprintf("equity_%s_%s.csv", rep.Strategy, stamp), WriteEquityCSV},
	}

	paths := make([]string, 0, len(files))
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		if err := writeFile(path, rep, f.write); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeFile(path string, rep *Report, write func(io.Writer, *Report) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if err := write(f, rep); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
