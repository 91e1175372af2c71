package patients

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/MeKo-Tech/doseocr/internal/extract"
	"github.com/MeKo-Tech/doseocr/internal/jobs"
)

// ErrArchiveAuth is returned when the archive rejects the credentials.
var ErrArchiveAuth = errors.New("archive login failed")

// Patient is one row of the archive's patient list.
type Patient struct {
	CineNo      string `json:"cine_no" yaml:"cine_no"`
	PatientID   string `json:"patient_id" yaml:"patient_id"`
	PatientName string `json:"patient_name" yaml:"patient_name"`
	Modality    string `json:"modality" yaml:"modality"`
	StudyDate   string `json:"study_date" yaml:"study_date"`
	Age         string `json:"age" yaml:"age"`
	Gender      string `json:"gender" yaml:"gender"`
}

// Meta returns the metadata the extractor uses.
func (p Patient) Meta() extract.PatientMeta {
	return extract.PatientMeta{Gender: p.Gender, StudyDate: p.StudyDate}
}

// WorkItem turns the patient into OCR work; the cine number is the image
// reference understood by the OCR service.
func (p Patient) WorkItem() jobs.WorkItem {
	return jobs.WorkItem{ImageRef: p.CineNo, PatientID: p.PatientID, PatientName: p.PatientName}
}

// ListQuery filters the patient list. Dates are YYYY-MM-DD.
type ListQuery struct {
	Modality    string
	StartDate   string
	EndDate     string
	PatientID   string
	PatientName string
}

// ArchiveConfig configures the imaging-archive client.
type ArchiveConfig struct {
	BaseURL  string
	Username string
	Password string
	Modality string
	Timeout  time.Duration
	// LookbackDays bounds single-patient lookups, which need a start date.
	LookbackDays int
}

// ArchiveClient reads patient lists from the imaging archive's web frontend.
// Patients seen in any listing are cached for Lookup.
type ArchiveClient struct {
	cfg    ArchiveConfig
	client *http.Client
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	loggedIn bool
	cache    map[string]Patient
}

// NewArchiveClient creates a client with its own cookie jar.
func NewArchiveClient(cfg ArchiveConfig, logger *slog.Logger) (*ArchiveClient, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid archive base url %q", cfg.BaseURL)
	}
	cfg.BaseURL = base.String()
	if cfg.Modality == "" {
		cfg.Modality = "XA"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = 30
	}
	if logger == nil {
		logger = slog.Default()
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &ArchiveClient{
		cfg:    cfg,
		client: &http.Client{Jar: jar, Timeout: cfg.Timeout},
		logger: logger,
		now:    time.Now,
		cache:  make(map[string]Patient),
	}, nil
}

func (c *ArchiveClient) newRequest(ctx context.Context, method, path string, form url.Values) (*http.Request, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	}
	req.Header.Set("Accept", "text/html, */*; q=0.01")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Referer", c.cfg.BaseURL+"/list.php")
	return req, nil
}

func (c *ArchiveClient) do(req *http.Request) (*http.Response, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("archive request %s: %w", req.URL.Path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("archive request %s: unexpected status %d", req.URL.Path, resp.StatusCode)
	}
	return resp, nil
}

// Login authenticates when credentials are configured. It is called lazily
// by ListPatients.
func (c *ArchiveClient) Login(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loginLocked(ctx)
}

func (c *ArchiveClient) loginLocked(ctx context.Context) error {
	if c.loggedIn || c.cfg.Username == "" {
		return nil
	}

	form := url.Values{}
	form.Set("id", c.cfg.Username)
	form.Set("pw", c.cfg.Password)
	req, err := c.newRequest(ctx, http.MethodPost, "/login.php", form)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	// A rejected session is redirected back to the login page.
	req, err = c.newRequest(ctx, http.MethodGet, "/list.php", nil)
	if err != nil {
		return err
	}
	resp, err = c.do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if strings.Contains(strings.ToLower(resp.Request.URL.Path), "login.php") {
		return fmt.Errorf("%w for user %s", ErrArchiveAuth, c.cfg.Username)
	}

	c.loggedIn = true
	c.logger.Info("Logged in to imaging archive", "user", c.cfg.Username)
	return nil
}

// ListPatients fetches the patient list. StartDate defaults to today.
func (c *ArchiveClient) ListPatients(ctx context.Context, q ListQuery) ([]Patient, error) {
	c.mu.Lock()
	err := c.loginLocked(ctx)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if q.Modality == "" {
		q.Modality = c.cfg.Modality
	}
	if q.StartDate == "" {
		q.StartDate = c.now().Format(time.DateOnly)
	}

	form := url.Values{}
	form.Set("mode", "plusmore")
	form.Set("nowPage", "0")
	form.Set("m_patid", q.PatientID)
	form.Set("m_name", q.PatientName)
	form.Set("remark", "")
	form.Set("modal", q.Modality)
	form.Set("start_dt", q.StartDate)
	form.Set("end_dt", q.EndDate)
	form.Set("ConfirmSono", "")
	form.Set("Physician", "")
	form.Set("orderByText", "")
	form.Set("orderByDivs", "desc")

	req, err := c.newRequest(ctx, http.MethodPost, "/inc/listAreaAjax.php", form)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	patients, err := ParsePatientList(resp.Body)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	for _, p := range patients {
		if _, seen := c.cache[p.PatientID]; !seen {
			c.cache[p.PatientID] = p
		}
	}
	c.mu.Unlock()

	c.logger.Debug("Fetched patient list", "count", len(patients), "modality", q.Modality, "start_date", q.StartDate)
	return patients, nil
}

// Lookup implements Source. Unknown patients are searched for within the
// configured lookback window; the most recent study wins.
func (c *ArchiveClient) Lookup(ctx context.Context, patientID string) (extract.PatientMeta, bool, error) {
	patientID = strings.TrimSpace(patientID)
	c.mu.Lock()
	p, ok := c.cache[patientID]
	c.mu.Unlock()
	if ok {
		return p.Meta(), true, nil
	}

	start := c.now().AddDate(0, 0, -c.cfg.LookbackDays).Format(time.DateOnly)
	list, err := c.ListPatients(ctx, ListQuery{PatientID: patientID, StartDate: start})
	if err != nil {
		return extract.PatientMeta{}, false, err
	}
	for _, p := range list {
		if p.PatientID == patientID {
			return p.Meta(), true, nil
		}
	}
	return extract.PatientMeta{}, false, nil
}

var clkListPattern = regexp.MustCompile(`clkList\(\s*'([^']*)'\s*,\s*'([^']*)'`)

// ParsePatientList parses the archive's patient-list HTML fragment. Each
// patient is a <ul onclick="clkList('<cine>','<patient id>',this);"> whose
// <li> children are id, name, modality, study date, age and gender.
func ParsePatientList(r io.Reader) ([]Patient, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse patient list: %w", err)
	}

	var patients []Patient
	doc.Find(`ul[onclick*="clkList"]`).Each(func(_ int, s *goquery.Selection) {
		onclick, _ := s.Attr("onclick")
		m := clkListPattern.FindStringSubmatch(onclick)
		if m == nil || m[2] == "" {
			return
		}
		var cells []string
		s.ChildrenFiltered("li").Each(func(_ int, li *goquery.Selection) {
			cells = append(cells, strings.TrimSpace(li.Text()))
		})
		cell := func(i int) string {
			if i < len(cells) {
				return cells[i]
			}
			return ""
		}
		patients = append(patients, Patient{
			CineNo:      m[1],
			PatientID:   m[2],
			PatientName: cell(1),
			Modality:    cell(2),
			StudyDate:   cell(3),
			Age:         cell(4),
			Gender:      cell(5),
		})
	})
	return patients, nil
}
