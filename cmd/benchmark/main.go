// Benchmark tool for validating riskcalc models against historical cases.
//
// Usage:
//
//	go run ./cmd/benchmark -csv /path/to/cases.csv -url http://localhost:8080
//
// This tool:
//  1. Reads surgical cases with their observed outcomes from a CSV file
//  2. Sends each case to riskcalc for calculation
//  3. Compares each model's predicted probability with the observed outcome
//  4. Reports Brier score, discrimination (AUC) and calibration per model
//
// The CSV header names the columns. "specialty" selects the specialty (or
// -specialty supplies it for every row), columns named "outcome:<model>"
// hold the observed outcome of that model as 0 or 1, and every other column
// is an input keyed by variable key.
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const outcomePrefix = "outcome:"

// Case is one row of the validation dataset.
type Case struct {
	Row       int
	Specialty string
	Inputs    map[string]string
	Observed  map[string]bool
}

// CalculateRequest is the riskcalc API request format
type CalculateRequest struct {
	Specialty string            `json:"specialty"`
	Inputs    map[string]string `json:"inputs"`
}

// CalculateResponse is the part of the riskcalc API response this tool reads
type CalculateResponse struct {
	ID       string `json:"id"`
	Outcomes []struct {
		Model       string  `json:"model"`
		Probability float64 `json:"probability"`
	} `json:"outcomes"`
}

type errorResponse struct {
	Error            string   `json:"error"`
	MissingVariables []string `json:"missingVariables"`
}

// Counters tracks request outcomes
type Counters struct {
	TotalProcessed int64
	TotalRefused   int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

func main() {
	// Parse flags
	csvPath := flag.String("csv", "", "Path to the validation CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "riskcalc base URL")
	specialty := flag.String("specialty", "", "Specialty for rows without a specialty column")
	limit := flag.Int("limit", 10000, "Maximum cases to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each case result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/cases.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║         RISKCALC BENCHMARK - Model Validation                 ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:      %s\n", *csvPath)
	fmt.Printf("riskcalc URL:  %s\n", *baseURL)
	fmt.Printf("Workers:       %d\n", *workers)
	fmt.Printf("Limit:         %d\n", *limit)
	fmt.Println()

	if err := checkReady(*baseURL); err != nil {
		fmt.Printf("ERROR: riskcalc not ready at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure riskcalc is running with a catalog:")
		fmt.Println("  go run ./cmd/riskcalc -catalog catalog.yaml")
		os.Exit(1)
	}
	fmt.Println("✓ riskcalc is ready")

	file, err := os.Open(*csvPath)
	if err != nil {
		fmt.Printf("ERROR: Failed to open CSV: %v\n", err)
		os.Exit(1)
	}
	cases, err := readCases(file, *specialty, *limit)
	file.Close()
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d cases\n", len(cases))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	counters, scores := runBenchmark(cases, *baseURL, *workers, *verbose)
	duration := time.Since(startTime)

	printResults(counters, scores, duration)
}

func checkReady(baseURL string) error {
	resp, err := http.Get(baseURL + "/ready")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("not ready: status %d", resp.StatusCode)
	}
	return nil
}

func readCases(r io.Reader, defaultSpecialty string, limit int) ([]Case, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	// Read header
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	var cases []Case
	for row := 2; ; row++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		c := Case{
			Row:       row,
			Specialty: defaultSpecialty,
			Inputs:    make(map[string]string),
			Observed:  make(map[string]bool),
		}
		for i, col := range header {
			if i >= len(record) {
				break
			}
			value := strings.TrimSpace(record[i])
			switch {
			case col == "specialty":
				if value != "" {
					c.Specialty = value
				}
			case strings.HasPrefix(col, outcomePrefix):
				if value == "" {
					continue
				}
				c.Observed[strings.TrimPrefix(col, outcomePrefix)] = value == "1"
			case value != "":
				c.Inputs[col] = value
			}
		}
		if c.Specialty == "" {
			return nil, fmt.Errorf("row %d: no specialty", row)
		}

		cases = append(cases, c)
		if limit > 0 && len(cases) >= limit {
			break
		}
	}

	return cases, nil
}

func runBenchmark(cases []Case, baseURL string, numWorkers int, verbose bool) (*Counters, map[string]*ModelScore) {
	counters := &Counters{}
	scores := make(map[string]*ModelScore)
	var mu sync.Mutex

	// Create work channel
	work := make(chan Case, 100)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for c := range work {
				start := time.Now()
				result, err := calculate(client, baseURL, c)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&counters.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&counters.TotalProcessed, 1)

				if err != nil {
					var refused *refusedError
					if errors.As(err, &refused) {
						atomic.AddInt64(&counters.TotalRefused, 1)
					} else {
						atomic.AddInt64(&counters.TotalErrors, 1)
					}
					if verbose {
						fmt.Printf("ERROR: row %d -> %v\n", c.Row, err)
					}
					continue
				}

				mu.Lock()
				for _, o := range result.Outcomes {
					observed, ok := c.Observed[o.Model]
					if !ok {
						continue
					}
					score := scores[o.Model]
					if score == nil {
						score = &ModelScore{Model: o.Model}
						scores[o.Model] = score
					}
					score.Add(o.Probability, observed)
				}
				mu.Unlock()

				if verbose {
					for _, o := range result.Outcomes {
						fmt.Printf("row %-6d | %-20s | %-45s | %6.2f%% | observed: %v\n",
							c.Row, c.Specialty, o.Model, o.Probability*100, c.Observed[o.Model])
					}
				}
			}
		}()
	}

	// Send work
	for _, c := range cases {
		work <- c
	}
	close(work)

	// Wait for completion
	wg.Wait()

	return counters, scores
}

// refusedError is a calculation riskcalc declined because of its inputs.
type refusedError struct {
	status  int
	message string
}

func (e *refusedError) Error() string {
	return fmt.Sprintf("refused (%d): %s", e.status, e.message)
}

func calculate(client *http.Client, baseURL string, c Case) (*CalculateResponse, error) {
	body, err := json.Marshal(CalculateRequest{Specialty: c.Specialty, Inputs: c.Inputs})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/calculations", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		var e errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		msg := e.Error
		if len(e.MissingVariables) > 0 {
			msg += " " + strings.Join(e.MissingVariables, ", ")
		}
		return nil, &refusedError{status: resp.StatusCode, message: msg}
	default:
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result CalculateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func printResults(c *Counters, scores map[string]*ModelScore, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", c.TotalProcessed)
	fmt.Printf("   Refused:          %d  (missing or invalid inputs)\n", c.TotalRefused)
	fmt.Printf("   Errors:           %d\n", c.TotalErrors)

	models := make([]string, 0, len(scores))
	for name := range scores {
		models = append(models, name)
	}
	sort.Strings(models)

	fmt.Printf("\n🎯 MODEL PERFORMANCE\n")
	if len(models) == 0 {
		fmt.Println("   No outcomes observed - add outcome:<model> columns to the CSV")
	}
	for _, name := range models {
		s := scores[name]
		fmt.Printf("\n   %s\n", name)
		fmt.Printf("     Cases:            %d  (%d events)\n", s.N(), s.Events())
		fmt.Printf("     Mean Predicted:   %.4f\n", s.MeanPredicted())
		fmt.Printf("     Observed Rate:    %.4f\n", s.ObservedRate())
		fmt.Printf("     Brier Score:      %.4f  (lower is better)\n", s.Brier())
		if auc, ok := s.AUC(); ok {
			fmt.Printf("     AUC:              %.4f  (0.5 is chance)\n", auc)
		} else {
			fmt.Println("     AUC:              n/a  (needs events and non-events)")
		}
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if c.TotalProcessed > 0 {
		avgMs := float64(c.ProcessingTimeMs) / float64(c.TotalProcessed)
		cps := float64(c.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f calculations/sec\n", cps)
	}

	fmt.Println()
}
