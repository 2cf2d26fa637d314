package logger

import (
	"fmt"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/harrison/aegis/internal/models"
)

// ProgressBar renders terminal task outcomes as one segmented bar:
// "[===x-     ] 5/10 (50%)" where '=' is completed, 'x' failed and '-' cancelled.
type ProgressBar struct {
	total       int
	width       int
	enableColor bool

	mu        sync.RWMutex
	completed int
	failed    int
	cancelled int
}

// NewProgressBar creates a bar for total tasks drawn width cells wide
func NewProgressBar(total, width int, enableColor bool) *ProgressBar {
	if width < 1 {
		width = 10
	}
	return &ProgressBar{total: total, width: width, enableColor: enableColor}
}

// Add counts one task; non-terminal statuses are ignored
func (pb *ProgressBar) Add(status models.TaskStatus) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	switch status {
	case models.StatusCompleted:
		pb.completed++
	case models.StatusFailed:
		pb.failed++
	case models.StatusCancelled:
		pb.cancelled++
	}
}

// Done returns the number of terminal tasks counted so far
func (pb *ProgressBar) Done() int {
	pb.mu.RLock()
	defer pb.mu.RUnlock()
	return pb.done()
}

func (pb *ProgressBar) done() int {
	return pb.completed + pb.failed + pb.cancelled
}

// Percentage returns the share of terminal tasks clamped to 0-100
func (pb *ProgressBar) Percentage() int {
	pb.mu.RLock()
	defer pb.mu.RUnlock()
	return pb.percentage()
}

func (pb *ProgressBar) percentage() int {
	if pb.total <= 0 {
		return 0
	}
	perc := (pb.done() * 100) / pb.total
	if perc > 100 {
		return 100
	}
	return perc
}

// cells converts a task count to bar cells, never exceeding what is left
func (pb *ProgressBar) cells(n, left int) int {
	if pb.total <= 0 {
		return 0
	}
	c := (n * pb.width) / pb.total
	if c > left {
		return left
	}
	return c
}

// Render draws the bar. Segments are colored by outcome when color is enabled.
func (pb *ProgressBar) Render() string {
	pb.mu.RLock()
	defer pb.mu.RUnlock()

	left := pb.width
	failedCells := pb.cells(pb.failed, left)
	left -= failedCells
	cancelledCells := pb.cells(pb.cancelled, left)
	left -= cancelledCells
	// Completed takes the rounding remainder so a finished batch fills the bar
	completedCells := pb.cells(pb.done(), pb.width) - failedCells - cancelledCells
	if completedCells < 0 {
		completedCells = 0
	}
	if completedCells > left {
		completedCells = left
	}
	left -= completedCells

	completedSeg := strings.Repeat("=", completedCells)
	failedSeg := strings.Repeat("x", failedCells)
	cancelledSeg := strings.Repeat("-", cancelledCells)
	if pb.enableColor {
		completedSeg = color.GreenString(completedSeg)
		failedSeg = color.RedString(failedSeg)
		cancelledSeg = color.YellowString(cancelledSeg)
	}

	bar := "[" + completedSeg + failedSeg + cancelledSeg + strings.Repeat(" ", left) + "]"
	return fmt.Sprintf("%s %d/%d (%d%%)", bar, pb.done(), pb.total, pb.percentage())
}
