package services

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const reportSweepInterval = 1 * time.Hour

// ReportJanitor removes downloaded reports older than maxAge from the report
// directory. A zero maxAge disables it.
type ReportJanitor struct {
	dir      string
	maxAge   time.Duration
	interval time.Duration
	stopChan chan struct{}
	done     chan struct{}
}

func NewReportJanitor(dir string, maxAge time.Duration) *ReportJanitor {
	return &ReportJanitor{
		dir:      dir,
		maxAge:   maxAge,
		interval: reportSweepInterval,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (j *ReportJanitor) Start() {
	if j.maxAge <= 0 {
		close(j.done)
		return
	}
	go j.loop()
	log.Printf("[Report Janitor] Started (max age %v)", j.maxAge)
}

func (j *ReportJanitor) Stop() {
	select {
	case <-j.stopChan:
		return
	default:
		close(j.stopChan)
	}
	<-j.done
}

func (j *ReportJanitor) loop() {
	defer close(j.done)

	// Sweep on startup as well as by interval.
	j.sweep(time.Now())

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.stopChan:
			return
		case <-ticker.C:
			j.sweep(time.Now())
		}
	}
}

// sweep deletes expired reports and returns how many were removed.
func (j *ReportJanitor) sweep(now time.Time) int {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[Report Janitor] Failed to list %s: %v", j.dir, err)
		}
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !isReportFile(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !expired(info.ModTime(), j.maxAge, now) {
			continue
		}
		path := filepath.Join(j.dir, entry.Name())
		if err := os.Remove(path); err != nil {
			log.Printf("[Report Janitor] Failed to remove %s: %v", path, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		log.Printf("[Report Janitor] Removed %d expired reports", removed)
	}
	return removed
}

// Partial downloads count too; a crashed worker can leave one behind.
func isReportFile(name string) bool {
	return strings.HasSuffix(name, ".pdf") || strings.HasSuffix(name, ".pdf.part")
}

func expired(modTime time.Time, maxAge time.Duration, now time.Time) bool {
	return now.Sub(modTime) >= maxAge
}
