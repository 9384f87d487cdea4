package result

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"veriballot/pkg/metrics"
)

// Writer is responsible for creating and writing result files.
type Writer struct {
	resultsPath string
	runs        uint64
	voters      uint64
}

// NewWriter creates a new writer for result files.
func NewWriter(resultsPath string, runs, voters uint64) *Writer {
	return &Writer{
		resultsPath: resultsPath,
		runs:        runs,
		voters:      voters,
	}
}

// WriteAllResults is the main entry point that generates and writes all result files.
func (w *Writer) WriteAllResults(analysis metrics.AnalysisResult) error {
	if err := os.MkdirAll(w.resultsPath, 0755); err != nil {
		return fmt.Errorf("could not create results directory %s: %w", w.resultsPath, err)
	}

	if err := w.writeRawResults(analysis); err != nil {
		return fmt.Errorf("failed to write raw results: %w", err)
	}
	if err := w.writeStatResults(analysis); err != nil {
		return fmt.Errorf("failed to write statistical results: %w", err)
	}
	return nil
}

// generateFilename creates a standardized filename for a result file.
// Example: STATS_V100_R5_T2025-01-02-15-04-05.csv
func (w *Writer) generateFilename(fileType string) string {
	timestamp := time.Now().Format("2006-01-02-15-04-05")
	base := fmt.Sprintf("%s_V%d_R%d_T%s.csv", fileType, w.voters, w.runs, timestamp)
	return filepath.Join(w.resultsPath, base)
}

// writeRawResults saves the inclusive execution time of every measured operation in every run.
func (w *Writer) writeRawResults(analysis metrics.AnalysisResult) error {
	filePath := w.generateFilename("RAW")
	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("could not create raw results file %s: %w", filePath, err)
	}
	defer file.Close()

	csvWriter := csv.NewWriter(file)
	defer csvWriter.Flush()

	header := []string{"Run", "Operation", "Type", "Depth", "WallClock_us", "UserTime_us", "SystemTime_us"}
	if err := csvWriter.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header to %s: %w", filePath, err)
	}

	for run, rec := range analysis.Recorders {
		for _, root := range rec.RootMeasurements() {
			if err := writeMeasurementRows(csvWriter, run, root); err != nil {
				return fmt.Errorf("failed to write rows to %s: %w", filePath, err)
			}
		}
	}
	fmt.Printf("Raw results written to %s\n", filePath)
	return nil
}

// writeMeasurementRows walks one measurement subtree and emits a row per node.
func writeMeasurementRows(csvWriter *csv.Writer, run int, m *metrics.Measurement) error {
	row := []string{
		fmt.Sprintf("%d", run),
		m.UniqueName,
		m.Type.String(),
		fmt.Sprintf("%d", m.Depth),
		fmt.Sprintf("%d", m.Inclusive.WallClock.Microseconds()),
		fmt.Sprintf("%d", m.Inclusive.UserTime.Microseconds()),
		fmt.Sprintf("%d", m.Inclusive.SystemTime.Microseconds()),
	}
	if err := csvWriter.Write(row); err != nil {
		return err
	}
	for _, child := range m.Children {
		if err := writeMeasurementRows(csvWriter, run, child); err != nil {
			return err
		}
	}
	return nil
}

// writeStatResults saves the cross-run summary statistics for each component.
func (w *Writer) writeStatResults(analysis metrics.AnalysisResult) error {
	filePath := w.generateFilename("STATS")
	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("could not create stats file %s: %w", filePath, err)
	}
	defer file.Close()

	csvWriter := csv.NewWriter(file)
	defer csvWriter.Flush()

	header := []string{"Component", "Metric", "Count", "Mean_us", "Median_us", "P95_us", "Min_us", "Max_us"}
	if err := csvWriter.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header to %s: %w", filePath, err)
	}

	components := make([]string, 0, len(analysis.Components))
	for name := range analysis.Components {
		components = append(components, name)
	}
	sort.Strings(components)

	for _, name := range components {
		comp := analysis.Components[name]

		derived := make([]string, 0, len(comp.Summaries))
		for metricName := range comp.Summaries {
			derived = append(derived, metricName)
		}
		sort.Strings(derived)

		for _, metricName := range derived {
			summary := comp.Summaries[metricName].WallClock
			row := []string{
				name,
				metricName,
				fmt.Sprintf("%d", summary.Count),
				fmt.Sprintf("%d", summary.Mean.Microseconds()),
				fmt.Sprintf("%d", summary.P50.Microseconds()),
				fmt.Sprintf("%d", summary.P95.Microseconds()),
				fmt.Sprintf("%d", summary.Min.Microseconds()),
				fmt.Sprintf("%d", summary.Max.Microseconds()),
			}
			if err := csvWriter.Write(row); err != nil {
				return fmt.Errorf("failed to write row to %s: %w", filePath, err)
			}
		}
	}
	fmt.Printf("Statistical results written to %s\n", filePath)
	return nil
}
