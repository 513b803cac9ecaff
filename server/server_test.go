package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"mvsynth/config"
	"mvsynth/core/analyzer"
	"mvsynth/core/auth"
	"mvsynth/core/compositor"
	"mvsynth/core/keyframe"
	"mvsynth/core/pipeline"
	"mvsynth/core/planner"
	"mvsynth/events"
	"mvsynth/model"
	"mvsynth/repository"
)

type fakeExecutor struct {
	block   bool
	err     error
	started chan string
}

func (f *fakeExecutor) Run(ctx context.Context, req pipeline.Request, progress pipeline.ProgressFunc) (*pipeline.Result, error) {
	progress(model.StageAnalyze, 5, "analyzing audio")
	if f.started != nil {
		f.started <- req.RunID
	}
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	progress(model.StageCompose, 70, "rendered segment 1/2")
	return &pipeline.Result{
		RunID:    req.RunID,
		Analysis: &model.Analysis{Duration: 4, Tempo: 120},
		Timeline: &model.Timeline{Duration: 4, Segments: []model.Segment{
			{Index: 0, Start: 0, End: 2, Duration: 2, Image: "a.png"},
			{Index: 1, Start: 2, End: 4, Duration: 2, Image: "b.png"},
		}},
		OutputPath: "/out/" + req.RunID + ".mp4",
	}, nil
}

type fakeAnalyzer struct{ err error }

func (f fakeAnalyzer) Analyze(context.Context, string, analyzer.Options) (*model.Analysis, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &model.Analysis{Duration: 3, Tempo: 100}, nil
}

type fakeUploader struct{ keys chan string }

func (f fakeUploader) UploadRun(_ context.Context, runID, video string, _ []string) (string, error) {
	key := "videos/" + runID + "/final.mp4"
	f.keys <- key
	return key, nil
}

type env struct {
	srv    *Server
	http   *httptest.Server
	token  string
	cancel context.CancelFunc
}

func newEnv(t *testing.T, exec Executor, deps ...func(*Deps)) *env {
	t.Helper()
	hash, err := auth.HashPassword("pw")
	if err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{
		WorkDir:           t.TempDir(),
		OutputDir:         t.TempDir(),
		AdminUser:         "admin",
		AdminPasswordHash: hash,
	}
	issuer, _ := auth.NewIssuer("test-secret")

	comp := compositor.DefaultOptions()
	comp.OutputDir = cfg.OutputDir
	preset, _ := keyframe.LookupPreset("sdxl_turbo")
	d := Deps{
		Config: cfg,
		Template: pipeline.Request{
			Keyframes:  4,
			Seed:       -1,
			Preset:     preset,
			Analyzer:   analyzer.DefaultOptions(),
			Planner:    planner.DefaultOptions(),
			Compositor: comp,
		},
		Executor: exec,
		Analyzer: fakeAnalyzer{},
		Runs:     repository.NewMemoryRunRepository(),
		Bus:      events.NewMemoryBus(),
		Issuer:   issuer,
	}
	for _, fn := range deps {
		fn(&d)
	}
	srv, err := New(d)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go srv.RunWorker(ctx)
	hs := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		cancel()
		hs.Close()
	})
	token, _, _ := issuer.GenerateToken("admin")
	return &env{srv: srv, http: hs, token: token, cancel: cancel}
}

func (e *env) do(t *testing.T, req *http.Request) *http.Response {
	t.Helper()
	req.Header.Set("Authorization", "Bearer "+e.token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *env) get(t *testing.T, path string) *http.Response {
	req, _ := http.NewRequest(http.MethodGet, e.http.URL+path, nil)
	return e.do(t, req)
}

func uploadRequest(t *testing.T, url, filename string, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	if filename != "" {
		fw, _ := mw.CreateFormFile("audio", filename)
		fw.Write([]byte("RIFF....WAVEfmt "))
	}
	mw.Close()
	req, _ := http.NewRequest(http.MethodPost, url, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func (e *env) createRun(t *testing.T, fields map[string]string) string {
	t.Helper()
	resp := e.do(t, uploadRequest(t, e.http.URL+"/api/runs", "song.wav", fields))
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("create run: status %d", resp.StatusCode)
	}
	var out struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	json.NewDecoder(resp.Body).Decode(&out)
	if out.ID == "" || out.Status != string(model.RunQueued) {
		t.Fatalf("create run: %+v", out)
	}
	return out.ID
}

func (e *env) waitStatus(t *testing.T, id string, want model.RunStatus) *model.Run {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		run, _ := e.srv.Runs.GetByID(context.Background(), id)
		if run != nil && run.Status == want {
			return run
		}
		time.Sleep(20 * time.Millisecond)
	}
	run, _ := e.srv.Runs.GetByID(context.Background(), id)
	t.Fatalf("run %s never reached %s (last %+v)", id, want, run)
	return nil
}

func TestLogin(t *testing.T) {
	e := newEnv(t, &fakeExecutor{})

	tests := []struct {
		body string
		want int
	}{
		{`{"username":"admin","password":"pw"}`, http.StatusOK},
		{`{"username":"admin","password":"nope"}`, http.StatusUnauthorized},
		{`{"username":"root","password":"pw"}`, http.StatusUnauthorized},
		{`{"username":""}`, http.StatusBadRequest},
		{`not json`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		resp, err := http.Post(e.http.URL+"/api/auth/login", "application/json", strings.NewReader(tt.body))
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != tt.want {
			t.Errorf("login %s: status %d, want %d", tt.body, resp.StatusCode, tt.want)
		}
		if tt.want == http.StatusOK {
			var out map[string]string
			json.NewDecoder(resp.Body).Decode(&out)
			if _, err := e.srv.Issuer.ParseToken(out["token"]); err != nil {
				t.Errorf("issued token invalid: %v", err)
			}
		}
		resp.Body.Close()
	}
}

func TestAuthRequired(t *testing.T) {
	e := newEnv(t, &fakeExecutor{})
	for _, header := range []string{"", "Token abc", "Bearer abc"} {
		req, _ := http.NewRequest(http.MethodGet, e.http.URL+"/api/runs", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("Authorization %q: status %d", header, resp.StatusCode)
		}
	}
	resp, _ := http.Get(e.http.URL + "/api/runs?token=" + e.token)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("token query param: status %d", resp.StatusCode)
	}
}

func TestRunLifecycle(t *testing.T) {
	keys := make(chan string, 1)
	e := newEnv(t, &fakeExecutor{}, func(d *Deps) { d.Uploader = fakeUploader{keys: keys} })

	id := e.createRun(t, map[string]string{"style": "oil painting", "keyframes": "2", "resolution": "1080x1920"})
	run := e.waitStatus(t, id, model.RunSucceeded)
	if run.SegmentCount != 2 || run.Tempo != 120 || run.Progress != 100 {
		t.Errorf("completed run: %+v", run)
	}
	if run.ObjectKey != <-keys {
		t.Errorf("object key %q not recorded", run.ObjectKey)
	}

	resp := e.get(t, "/api/runs/"+id)
	var got model.Run
	json.NewDecoder(resp.Body).Decode(&got)
	if got.ID != id || got.Keyframes != 2 || got.Status != model.RunSucceeded {
		t.Errorf("GET run: %+v", got)
	}

	resp = e.get(t, "/api/runs/"+id+"/timeline")
	var tl model.Timeline
	if err := json.NewDecoder(resp.Body).Decode(&tl); err != nil || len(tl.Segments) != 2 {
		t.Errorf("timeline: %+v, %v", tl, err)
	}

	resp = e.get(t, "/api/runs")
	var list []model.Run
	json.NewDecoder(resp.Body).Decode(&list)
	if len(list) != 1 {
		t.Errorf("list has %d runs", len(list))
	}

	if resp := e.get(t, "/api/runs/missing"); resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing run: status %d", resp.StatusCode)
	}
}

func TestCreateRunRejectsBadInput(t *testing.T) {
	e := newEnv(t, &fakeExecutor{})
	tests := []struct {
		name   string
		file   string
		fields map[string]string
	}{
		{"no style", "song.wav", map[string]string{}},
		{"bad keyframes", "song.wav", map[string]string{"style": "s", "keyframes": "x"}},
		{"zero keyframes", "song.wav", map[string]string{"style": "s", "keyframes": "0"}},
		{"bad resolution", "song.wav", map[string]string{"style": "s", "resolution": "1x1"}},
		{"bad transition", "song.wav", map[string]string{"style": "s", "transition_style": "wipe"}},
		{"not audio", "notes.txt", map[string]string{"style": "s"}},
		{"no file", "", map[string]string{"style": "s"}},
	}
	for _, tt := range tests {
		resp := e.do(t, uploadRequest(t, e.http.URL+"/api/runs", tt.file, tt.fields))
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status %d", tt.name, resp.StatusCode)
		}
	}
}

func TestRunFailureRecorded(t *testing.T) {
	cause := model.NewStageError(model.StageAnalyze, "song.wav", model.ErrAudioEmpty, nil)
	e := newEnv(t, &fakeExecutor{err: cause})

	id := e.createRun(t, map[string]string{"style": "s"})
	run := e.waitStatus(t, id, model.RunFailed)
	if !strings.Contains(run.Error, "shorter than one second") || run.FinishedAt == nil {
		t.Errorf("failed run: %+v", run)
	}
	if resp := e.get(t, "/api/runs/"+id+"/timeline"); resp.StatusCode != http.StatusNotFound {
		t.Errorf("timeline of failed run: status %d", resp.StatusCode)
	}
}

func TestCancelRunningRun(t *testing.T) {
	exec := &fakeExecutor{block: true, started: make(chan string, 1)}
	e := newEnv(t, exec)

	id := e.createRun(t, map[string]string{"style": "s"})
	<-exec.started

	req, _ := http.NewRequest(http.MethodDelete, e.http.URL+"/api/runs/"+id, nil)
	if resp := e.do(t, req); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("cancel: status %d", resp.StatusCode)
	}
	e.waitStatus(t, id, model.RunCancelled)

	req, _ = http.NewRequest(http.MethodDelete, e.http.URL+"/api/runs/"+id, nil)
	if resp := e.do(t, req); resp.StatusCode != http.StatusConflict {
		t.Errorf("cancel finished run: status %d", resp.StatusCode)
	}
}

func TestCancelQueuedRun(t *testing.T) {
	exec := &fakeExecutor{block: true, started: make(chan string, 2)}
	e := newEnv(t, exec)

	first := e.createRun(t, map[string]string{"style": "s"})
	<-exec.started
	second := e.createRun(t, map[string]string{"style": "s"})

	req, _ := http.NewRequest(http.MethodDelete, e.http.URL+"/api/runs/"+second, nil)
	if resp := e.do(t, req); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("cancel queued: status %d", resp.StatusCode)
	}
	e.waitStatus(t, second, model.RunCancelled)

	req, _ = http.NewRequest(http.MethodDelete, e.http.URL+"/api/runs/"+first, nil)
	e.do(t, req)
	e.waitStatus(t, first, model.RunCancelled)

	// The cancelled queued run never reaches the executor.
	select {
	case id := <-exec.started:
		t.Errorf("executor started cancelled run %s", id)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestAnalyzeErrorMapping(t *testing.T) {
	tests := []struct {
		err      error
		want     int
		wantKind string
	}{
		{nil, http.StatusOK, ""},
		{model.NewStageError(model.StageAnalyze, "a", model.ErrAudioEmpty, nil), http.StatusUnprocessableEntity, "audio_empty"},
		{fmt.Errorf("decode: %w", model.ErrAudioRead), http.StatusUnprocessableEntity, "audio_read"},
		{fmt.Errorf("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		e := newEnv(t, &fakeExecutor{}, func(d *Deps) { d.Analyzer = fakeAnalyzer{err: tt.err} })
		resp := e.do(t, uploadRequest(t, e.http.URL+"/api/analyze", "song.wav", nil))
		if resp.StatusCode != tt.want {
			t.Errorf("%v: status %d, want %d", tt.err, resp.StatusCode, tt.want)
			continue
		}
		if tt.err != nil {
			var out map[string]string
			json.NewDecoder(resp.Body).Decode(&out)
			if out["kind"] != tt.wantKind {
				t.Errorf("%v: kind %q, want %q", tt.err, out["kind"], tt.wantKind)
			}
		}
	}
}

func TestProgressSocket(t *testing.T) {
	exec := &fakeExecutor{block: true, started: make(chan string, 1)}
	e := newEnv(t, exec)

	id := e.createRun(t, map[string]string{"style": "s"})
	<-exec.started

	url := "ws" + strings.TrimPrefix(e.http.URL, "http") + "/ws/runs/" + id + "?token=" + e.token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var snapshot model.ProgressEvent
	if err := conn.ReadJSON(&snapshot); err != nil {
		t.Fatal(err)
	}
	if snapshot.RunID != id || snapshot.Status != model.RunAnalyzing {
		t.Errorf("snapshot: %+v", snapshot)
	}

	req, _ := http.NewRequest(http.MethodDelete, e.http.URL+"/api/runs/"+id, nil)
	e.do(t, req)

	var last model.ProgressEvent
	for {
		var ev model.ProgressEvent
		if err := conn.ReadJSON(&ev); err != nil {
			break
		}
		last = ev
	}
	if last.Status != model.RunCancelled {
		t.Errorf("last event: %+v", last)
	}
}

func TestStatusFor(t *testing.T) {
	if got := statusFor(model.NewStageError(model.StageCompose, "x", model.ErrCompositorStep, nil)); got != http.StatusInternalServerError {
		t.Errorf("compositor step: %d", got)
	}
	if got := errorKind(model.NewStageError(model.StagePlan, "", model.ErrTimelineInfeasible, nil)); got != "timeline_infeasible" {
		t.Errorf("kind: %s", got)
	}
}
