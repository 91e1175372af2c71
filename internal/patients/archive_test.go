package patients

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const patientListHTML = `
<div class="listArea">
<ul onclick="clkList('67170','00306304',this);">
	<li>00306304</li>
	<li>임병철</li>
	<li>XA</li>
	<li>10:52:53 2025-12-10</li>
	<li>57</li>
	<li>M</li>
	<li>Dr. Kim</li>
</ul>
<ul onclick="clkList('67171','00412345',this);">
	<li>00412345</li>
	<li>HONG GILDONG</li>
</ul>
<ul class="header"><li>ID</li><li>Name</li></ul>
</div>`

func TestParsePatientList(t *testing.T) {
	patients, err := ParsePatientList(strings.NewReader(patientListHTML))
	require.NoError(t, err)
	require.Len(t, patients, 2)

	assert.Equal(t, Patient{
		CineNo:      "67170",
		PatientID:   "00306304",
		PatientName: "임병철",
		Modality:    "XA",
		StudyDate:   "10:52:53 2025-12-10",
		Age:         "57",
		Gender:      "M",
	}, patients[0])

	assert.Equal(t, "67171", patients[1].CineNo)
	assert.Equal(t, "HONG GILDONG", patients[1].PatientName)
	assert.Empty(t, patients[1].Gender)

	item := patients[0].WorkItem()
	assert.Equal(t, "67170", item.ImageRef)
	assert.Equal(t, "00306304 임병철", item.Label())
}

func TestParsePatientList_Empty(t *testing.T) {
	patients, err := ParsePatientList(strings.NewReader("<p>no results</p>"))
	require.NoError(t, err)
	assert.Empty(t, patients)
}

type fakeArchive struct {
	mu       sync.Mutex
	forms    []map[string]string
	password string
}

func (f *fakeArchive) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/login.php", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.FormValue("pw") == f.password {
			http.SetCookie(w, &http.Cookie{Name: "session", Value: "ok", Path: "/"})
		}
		_, _ = io.WriteString(w, "<html>login</html>")
	})
	mux.HandleFunc("/list.php", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("session"); err != nil || c.Value != "ok" {
			http.Redirect(w, r, "/login.php", http.StatusFound)
			return
		}
		_, _ = io.WriteString(w, "<html>list</html>")
	})
	mux.HandleFunc("/inc/listAreaAjax.php", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		form := map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		f.mu.Lock()
		f.forms = append(f.forms, form)
		f.mu.Unlock()
		_, _ = io.WriteString(w, patientListHTML)
	})
	return mux
}

func newTestArchive(t *testing.T, cfg ArchiveConfig) (*ArchiveClient, *fakeArchive) {
	t.Helper()
	fake := &fakeArchive{password: "secret"}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	cfg.BaseURL = srv.URL
	client, err := NewArchiveClient(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	client.now = func() time.Time { return time.Date(2025, 12, 10, 12, 0, 0, 0, time.UTC) }
	return client, fake
}

func TestArchiveClient_ListPatients(t *testing.T) {
	client, fake := newTestArchive(t, ArchiveConfig{Username: "op", Password: "secret"})

	patients, err := client.ListPatients(context.Background(), ListQuery{PatientName: "HONG"})
	require.NoError(t, err)
	assert.Len(t, patients, 2)

	require.Len(t, fake.forms, 1)
	form := fake.forms[0]
	assert.Equal(t, "plusmore", form["mode"])
	assert.Equal(t, "XA", form["modal"])
	assert.Equal(t, "2025-12-10", form["start_dt"])
	assert.Equal(t, "HONG", form["m_name"])
	assert.Equal(t, "desc", form["orderByDivs"])
}

func TestArchiveClient_LoginRejected(t *testing.T) {
	client, _ := newTestArchive(t, ArchiveConfig{Username: "op", Password: "wrong"})

	_, err := client.ListPatients(context.Background(), ListQuery{})
	require.ErrorIs(t, err, ErrArchiveAuth)
}

func TestArchiveClient_Lookup(t *testing.T) {
	client, fake := newTestArchive(t, ArchiveConfig{LookbackDays: 7})
	ctx := context.Background()

	meta, ok, err := client.Lookup(ctx, "00306304")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "M", meta.Gender)
	assert.Equal(t, "10:52:53 2025-12-10", meta.StudyDate)

	require.Len(t, fake.forms, 1)
	assert.Equal(t, "2025-12-03", fake.forms[0]["start_dt"])
	assert.Equal(t, "00306304", fake.forms[0]["m_patid"])

	_, ok, err = client.Lookup(ctx, "00412345")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, fake.forms, 1, "cached patients need no request")

	_, ok, err = client.Lookup(ctx, "99999999")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewArchiveClient_InvalidURL(t *testing.T) {
	_, err := NewArchiveClient(ArchiveConfig{BaseURL: "not a url"}, nil)
	require.Error(t, err)
}
