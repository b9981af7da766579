package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/davidthor/catalogctl/pkg/engine"
)

// Display states a product passes through before its outcome is known.
const (
	statusPending engine.Status = "pending"
	statusWaiting engine.Status = "waiting"
)

// ProductInfo holds progress information about one product.
type ProductInfo struct {
	Name         string
	Dependencies []string
	Status       engine.Status
	Reason       string
	Version      string
	BlockedBy    string
	Error        error
	Duration     time.Duration
}

// ProgressTable displays run progress.
// It shows an initial plan table, prints one line per finished product and
// a final summary.
type ProgressTable struct {
	mu        sync.Mutex
	products  map[string]*ProductInfo
	order     []string // Maintains insertion order for display
	writer    io.Writer
	startTime time.Time
}

// NewProgressTable creates a new progress table.
func NewProgressTable(w io.Writer) *ProgressTable {
	return &ProgressTable{
		products:  make(map[string]*ProductInfo),
		order:     []string{},
		writer:    w,
		startTime: time.Now(),
	}
}

// AddProduct adds a product to track.
func (p *ProgressTable) AddProduct(name string, dependencies []string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.products[name]; !exists {
		p.order = append(p.order, name)
	}

	status := statusPending
	if len(dependencies) > 0 {
		status = statusWaiting
	}

	p.products[name] = &ProductInfo{
		Name:         name,
		Status:       status,
		Dependencies: dependencies,
	}
}

// Record stores a product's outcome and prints it as a single line.
func (p *ProgressTable) Record(o engine.Outcome) {
	p.mu.Lock()
	res, ok := p.products[o.Product]
	if !ok {
		res = &ProductInfo{Name: o.Product}
		p.products[o.Product] = res
		p.order = append(p.order, o.Product)
	}
	res.Status = o.Status
	res.Reason = o.Reason
	res.Version = o.Version
	res.BlockedBy = o.BlockedBy
	res.Error = o.Err
	res.Duration = o.Duration
	p.mu.Unlock()

	p.PrintUpdate(o.Product)
}

// PrintInitial prints the products a run will visit.
func (p *ProgressTable) PrintInitial(title string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintln(p.writer)
	fmt.Fprintf(p.writer, "%s:\n", title)
	fmt.Fprintln(p.writer, strings.Repeat("─", 60))

	for _, name := range p.order {
		res := p.products[name]
		deps := ""
		if len(res.Dependencies) > 0 {
			deps = fmt.Sprintf(" (depends on: %s)", strings.Join(res.Dependencies, ", "))
		}
		fmt.Fprintf(p.writer, "  + %s%s\n", res.Name, deps)
	}

	fmt.Fprintln(p.writer, strings.Repeat("─", 60))
	fmt.Fprintf(p.writer, "Total: %d products\n", len(p.order))
	fmt.Fprintln(p.writer)
}

// PrintUpdate prints a status update for a product as a single line.
func (p *ProgressTable) PrintUpdate(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	res, ok := p.products[name]
	if !ok {
		return
	}

	var statusStr string
	switch res.Status {
	case engine.StatusSucceeded:
		version := ""
		if res.Version != "" {
			version = " " + res.Version
		}
		statusStr = fmt.Sprintf("%s %s%s completed (%s)", p.statusIcon(res.Status), res.Name, version, res.Duration.Round(time.Millisecond))
	case engine.StatusFailed:
		statusStr = fmt.Sprintf("%s %s failed", p.statusIcon(res.Status), res.Name)
		if res.Error != nil {
			statusStr += fmt.Sprintf(": %v", res.Error)
		}
	case engine.StatusBlocked:
		statusStr = fmt.Sprintf("%s %s blocked by %s", p.statusIcon(res.Status), res.Name, res.BlockedBy)
		if res.BlockedBy == "" {
			statusStr = fmt.Sprintf("%s %s blocked: %s", p.statusIcon(res.Status), res.Name, res.Reason)
		}
	case engine.StatusSkippedUnchanged, engine.StatusSkipped, engine.StatusPlanned:
		statusStr = fmt.Sprintf("%s %s %s", p.statusIcon(res.Status), res.Name, res.Reason)
	default:
		return // Don't print pending/waiting updates
	}

	fmt.Fprintln(p.writer, statusStr)
}

func (p *ProgressTable) statusIcon(status engine.Status) string {
	switch status {
	case statusPending:
		return "○"
	case statusWaiting:
		return "◔"
	case engine.StatusPlanned:
		return "◐"
	case engine.StatusSucceeded:
		return "●"
	case engine.StatusFailed:
		return "✗"
	case engine.StatusBlocked:
		return "⊘"
	case engine.StatusSkipped, engine.StatusSkippedUnchanged:
		return "◌"
	default:
		return "?"
	}
}

// PrintFinalSummary prints the final run summary.
func (p *ProgressTable) PrintFinalSummary(report *engine.Report) {
	p.mu.Lock()
	defer p.mu.Unlock()

	elapsed := time.Since(p.startTime).Round(time.Millisecond)
	if report.Duration > 0 {
		elapsed = report.Duration.Round(time.Millisecond)
	}
	op := strings.ToUpper(string(report.Operation[:1])) + string(report.Operation[1:])

	succeeded := report.Count(engine.StatusSucceeded)
	failed := report.Count(engine.StatusFailed)
	blocked := report.Count(engine.StatusBlocked)
	skipped := report.Count(engine.StatusSkipped) + report.Count(engine.StatusSkippedUnchanged)

	fmt.Fprintln(p.writer)
	fmt.Fprintln(p.writer, strings.Repeat("─", 80))

	switch {
	case report.DryRun:
		fmt.Fprintf(p.writer, "%s dry run: %d planned, %d skipped\n", op, report.Count(engine.StatusPlanned), skipped)
	case failed > 0 || blocked > 0:
		fmt.Fprintf(p.writer, "%s completed with errors in %s\n", op, elapsed)
		fmt.Fprintf(p.writer, "  ● %d succeeded, ✗ %d failed, ⊘ %d blocked, ◌ %d skipped\n", succeeded, failed, blocked, skipped)

		// List failed products with detailed information
		fmt.Fprintln(p.writer, "\nFailed products:")
		for _, name := range p.order {
			res := p.products[name]
			switch res.Status {
			case engine.StatusFailed:
				fmt.Fprintf(p.writer, "\n  ✗ %s", res.Name)
				if res.Error != nil {
					fmt.Fprintf(p.writer, ": %v", res.Error)
				}
				fmt.Fprintln(p.writer)
			case engine.StatusBlocked:
				fmt.Fprintf(p.writer, "  ⊘ %s (blocked by %s)\n", res.Name, res.BlockedBy)
			}
		}
	default:
		fmt.Fprintf(p.writer, "%s completed successfully in %s\n", op, elapsed)
		fmt.Fprintf(p.writer, "  ● %d succeeded, ◌ %d skipped\n", succeeded, skipped)
	}
}

// GetStatus returns a product's current display status.
func (p *ProgressTable) GetStatus(name string) engine.Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	if res, ok := p.products[name]; ok {
		return res.Status
	}
	return ""
}

// GetProductsByStatus returns all product names with the given status.
func (p *ProgressTable) GetProductsByStatus(status engine.Status) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var names []string
	for _, name := range p.order {
		if p.products[name].Status == status {
			names = append(names, name)
		}
	}
	return names
}
