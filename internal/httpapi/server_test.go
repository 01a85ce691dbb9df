package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"inferd/internal/store"
	"inferd/pkg/types"
)

// fakeService is a scriptable Service for handler tests.
type fakeService struct {
	models   []types.Model
	status   types.StatusResponse
	ready    bool
	inferErr error
	// inferLines, when set, is streamed verbatim before inferErr is returned.
	inferLines []string
	jobs       types.JobsResponse
	job        types.JobRecord
	jobErr     error

	lastReq types.BatchRequest
}

func (f *fakeService) ListModels() []types.Model    { return f.models }
func (f *fakeService) Status() types.StatusResponse { return f.status }
func (f *fakeService) Ready() bool                  { return f.ready }

func (f *fakeService) Jobs(ctx context.Context, limit, offset int) (types.JobsResponse, error) {
	return f.jobs, nil
}
func (f *fakeService) Job(ctx context.Context, id string) (types.JobRecord, error) {
	return f.job, f.jobErr
}

func (f *fakeService) InferBatch(ctx context.Context, req types.BatchRequest, w io.Writer, flush func()) error {
	f.lastReq = req
	for _, line := range f.inferLines {
		io.WriteString(w, line+"\n")
		if flush != nil {
			flush()
		}
	}
	return f.inferErr
}

func newTestServer(svc Service) *httptest.Server {
	return httptest.NewServer(NewMux(svc))
}

func postInfer(t *testing.T, url string, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url+"/infer", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	return resp
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(&fakeService{})
	defer ts.Close()
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestReadyz(t *testing.T) {
	svc := &fakeService{ready: false}
	ts := newTestServer(svc)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("not-ready status = %d, want 503", resp.StatusCode)
	}

	svc.ready = true
	resp, err = http.Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ready status = %d, want 200", resp.StatusCode)
	}
}

func TestModelsEndpoint(t *testing.T) {
	svc := &fakeService{models: []types.Model{{ID: "tiny", Name: "tiny"}}}
	ts := newTestServer(svc)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/models")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("content type = %q", ct)
	}
	var out types.ModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Models) != 1 || out.Models[0].ID != "tiny" {
		t.Fatalf("unexpected models: %+v", out)
	}
}

func TestStatusEndpoint(t *testing.T) {
	svc := &fakeService{status: types.StatusResponse{State: "ready", ModelCount: 2, Capacity: 4}}
	ts := newTestServer(svc)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var out types.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.State != "ready" || out.ModelCount != 2 || out.Capacity != 4 {
		t.Fatalf("unexpected status: %+v", out)
	}
}

func TestInferRequiresJSONContentType(t *testing.T) {
	ts := newTestServer(&fakeService{})
	defer ts.Close()
	resp, err := http.Post(ts.URL+"/infer", "text/plain", strings.NewReader("hi"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d, want 415", resp.StatusCode)
	}
}

func TestInferRejectsInvalidJSON(t *testing.T) {
	ts := newTestServer(&fakeService{})
	defer ts.Close()
	resp := postInfer(t, ts.URL, "{not json")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestInferRejectsEmptyPrompts(t *testing.T) {
	ts := newTestServer(&fakeService{})
	defer ts.Close()

	for _, body := range []string{`{"prompts":[]}`, `{}`, `{"prompts":["ok","  "]}`} {
		resp := postInfer(t, ts.URL, body)
		var out types.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode error body: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("body %q: status = %d, want 400", body, resp.StatusCode)
		}
		if out.Code != http.StatusBadRequest || out.Error == "" {
			t.Fatalf("body %q: unexpected error payload: %+v", body, out)
		}
	}
}

func TestInferStreamsNDJSON(t *testing.T) {
	svc := &fakeService{inferLines: []string{
		`{"index":0,"content":"a"}`,
		`{"index":1,"content":"b"}`,
		`{"done":true,"count":2,"duration_ms":5}`,
	}}
	ts := newTestServer(svc)
	defer ts.Close()

	resp := postInfer(t, ts.URL, `{"model":"tiny","prompts":["p0","p1"],"capacity":2}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("content type = %q", ct)
	}

	var indices []int
	var summary types.BatchSummary
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		if strings.Contains(sc.Text(), `"done"`) {
			if err := json.Unmarshal(sc.Bytes(), &summary); err != nil {
				t.Fatalf("decode summary: %v", err)
			}
			continue
		}
		var line types.ResultLine
		if err := json.Unmarshal(sc.Bytes(), &line); err != nil {
			t.Fatalf("decode line: %v", err)
		}
		indices = append(indices, line.Index)
	}
	if len(indices) != 2 || indices[0] != 0 || indices[1] != 1 {
		t.Fatalf("unexpected indices: %v", indices)
	}
	if !summary.Done || summary.Count != 2 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if svc.lastReq.Model != "tiny" || svc.lastReq.Capacity != 2 {
		t.Fatalf("request not forwarded: %+v", svc.lastReq)
	}
}

type fakeBusyErr struct{}

func (fakeBusyErr) Error() string   { return "too busy" }
func (fakeBusyErr) StatusCode() int { return http.StatusTooManyRequests }

func TestInferErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"http error", fakeBusyErr{}, http.StatusTooManyRequests},
		{"opaque", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(&fakeService{inferErr: tc.err})
			defer ts.Close()
			resp := postInfer(t, ts.URL, `{"prompts":["p"]}`)
			defer resp.Body.Close()
			if resp.StatusCode != tc.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.want)
			}
			var out types.ErrorResponse
			if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if out.Code != tc.want {
				t.Fatalf("payload code = %d, want %d", out.Code, tc.want)
			}
		})
	}
}

func TestInferMidStreamErrorKeepsStatus(t *testing.T) {
	// An error after lines have been written must not emit a JSON error
	// payload into the NDJSON stream; the missing summary line is the signal.
	svc := &fakeService{
		inferLines: []string{`{"index":0,"content":"a"}`},
		inferErr:   errors.New("engine fell over"),
	}
	ts := newTestServer(svc)
	defer ts.Close()

	resp := postInfer(t, ts.URL, `{"prompts":["p0","p1"]}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 (already committed)", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if strings.Contains(string(body), `"error"`) {
		t.Fatalf("error payload leaked into stream: %s", body)
	}
	if strings.Contains(string(body), `"done"`) {
		t.Fatalf("summary line present despite failure: %s", body)
	}
}

func TestJobsEndpoint(t *testing.T) {
	svc := &fakeService{jobs: types.JobsResponse{
		Jobs:  []types.JobRecord{{ID: "01X", Model: "tiny", Status: "done"}},
		Total: 1,
	}}
	ts := newTestServer(svc)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/jobs?limit=10")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var out types.JobsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Total != 1 || len(out.Jobs) != 1 || out.Jobs[0].ID != "01X" {
		t.Fatalf("unexpected jobs: %+v", out)
	}
}

func TestJobNotFound(t *testing.T) {
	svc := &fakeService{jobErr: store.ErrNotFound}
	ts := newTestServer(svc)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/jobs/nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(&fakeService{})
	defer ts.Close()
	// Prime the request counters so the families appear in the exposition.
	if warm, err := http.Get(ts.URL + "/healthz"); err == nil {
		warm.Body.Close()
	}
	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "inferd_http_requests_total") {
		t.Fatalf("http metrics missing from exposition")
	}
}
