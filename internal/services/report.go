package services

import (
	"context"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	"perfeval-dashboard/internal/models"
)

// ReportService downloads generated reports into a local directory.
type ReportService struct {
	dir        string
	httpClient *http.Client
}

func NewReportService(dir string, timeout time.Duration) *ReportService {
	return &ReportService{
		dir: dir,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Download fetches job.URL, stores the file and checks it opens as a PDF.
// It returns the stored path and the page count.
func (s *ReportService) Download(ctx context.Context, job *models.ExportJob) (string, int, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("failed to create report directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, job.URL, nil)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create download request: %w", err)
	}
	req.Header.Set("Accept", "application/pdf")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", 0, &TransportError{Op: OpExport, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
		return "", 0, &TransportError{Op: OpExport, StatusCode: resp.StatusCode, Message: errorMessage(resp.StatusCode, body)}
	}

	path := filepath.Join(s.dir, reportFileName(job, resp.Header.Get("Content-Disposition")))
	tmp := path + ".part"

	f, err := os.Create(tmp)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create report file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", 0, &TransportError{Op: OpExport, Message: "report download interrupted", Err: err}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", 0, fmt.Errorf("failed to write report file: %w", err)
	}

	pages, err := countPages(tmp)
	if err != nil {
		os.Remove(tmp)
		return "", 0, fmt.Errorf("downloaded report is not a readable PDF: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", 0, fmt.Errorf("failed to finalize report file: %w", err)
	}

	log.Printf("[Report] Saved %s (%d pages)", path, pages)
	return path, pages, nil
}

func countPages(path string) (pages int, err error) {
	// The PDF reader panics on some truncated inputs.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	pages = reader.NumPage()
	if pages < 1 {
		return 0, fmt.Errorf("pdf has no pages")
	}
	return pages, nil
}

// reportFileName prefers the server-provided filename, reduced to its base name.
func reportFileName(job *models.ExportJob, disposition string) string {
	if disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil {
			name := filepath.Base(params["filename"])
			if name != "" && name != "." && name != "/" && !strings.HasPrefix(name, "..") {
				if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
					name += ".pdf"
				}
				return job.ID.String()[:8] + "-" + name
			}
		}
	}
	return "performance-report-" + job.ID.String() + ".pdf"
}
