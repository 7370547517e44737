package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/omnitech/omnidesk/internal/agent"
	"github.com/omnitech/omnidesk/internal/security"
)

// fakeService records calls and returns canned values.
type fakeService struct {
	queries     []string
	email       string
	asEmails    []string
	clearedSec  bool
	clearedHist bool
	err         error
	securityLog []agent.SecurityEvent
	toolCalls   []agent.ToolCall
}

func (f *fakeService) ProcessQuery(_ context.Context, query string) (agent.Response, error) {
	if f.err != nil {
		return agent.Response{}, f.err
	}
	f.queries = append(f.queries, query)
	return agent.Response{Text: "answer to " + query, Workflow: agent.WorkflowSupport, CustomerEmail: f.email}, nil
}

func (f *fakeService) ProcessQueryAs(_ context.Context, email, query string) (agent.Response, error) {
	if f.err != nil {
		return agent.Response{}, f.err
	}
	f.queries = append(f.queries, query)
	f.asEmails = append(f.asEmails, email)
	return agent.Response{Text: "answer to " + query, Workflow: agent.WorkflowSupport, CustomerEmail: email}, nil
}

func (f *fakeService) ToolCallLog() ([]agent.ToolCall, error) { return f.toolCalls, f.err }

func (f *fakeService) ServerStats(context.Context) (json.RawMessage, error) {
	return json.RawMessage(`{"total_calls":7}`), f.err
}

func (f *fakeService) SecurityLog() ([]agent.SecurityEvent, error) { return f.securityLog, f.err }

func (f *fakeService) ClearSecurityLog() error {
	f.clearedSec = true
	return f.err
}

func (f *fakeService) ClearHistory() error {
	f.clearedHist = true
	return f.err
}

func serve(h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHTTPHealth(t *testing.T) {
	h := NewHTTPHandler(&fakeService{}, "", nil)
	rr := serve(h, http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	var body map[string]string
	json.NewDecoder(rr.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("body = %v, want status=ok", body)
	}
}

func TestHTTPQuery(t *testing.T) {
	svc := &fakeService{}
	h := NewHTTPHandler(svc, "", nil)

	rr := serve(h, http.MethodPost, "/v1/query", `{"query":"Where is ORD-1003?","email":"john.doe@email.com"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	var resp agent.Response
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if resp.Text != "answer to Where is ORD-1003?" {
		t.Errorf("unexpected text %q", resp.Text)
	}
	if resp.CustomerEmail != "john.doe@email.com" {
		t.Errorf("email not applied: %q", resp.CustomerEmail)
	}

	// The email does not stick to later requests.
	rr = serve(h, http.MethodPost, "/v1/query", `{"query":"And my refund?"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	resp = agent.Response{}
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.CustomerEmail != "" || svc.email != "" {
		t.Errorf("email persisted across requests: response %q, session %q", resp.CustomerEmail, svc.email)
	}
	if len(svc.asEmails) != 1 || svc.asEmails[0] != "john.doe@email.com" {
		t.Errorf("per-query emails = %v", svc.asEmails)
	}
}

func TestHTTPQuery_BadRequests(t *testing.T) {
	h := NewHTTPHandler(&fakeService{}, "", nil)

	for name, body := range map[string]string{
		"malformed": `{"query":`,
		"empty":     `{"query":"   "}`,
	} {
		t.Run(name, func(t *testing.T) {
			rr := serve(h, http.MethodPost, "/v1/query", body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
			}
			if !strings.Contains(rr.Body.String(), "invalid_request_error") {
				t.Errorf("unexpected body %s", rr.Body.String())
			}
		})
	}
}

func TestHTTPQuery_ServiceClosed(t *testing.T) {
	h := NewHTTPHandler(&fakeService{err: errors.New("bridge closed")}, "", nil)
	rr := serve(h, http.MethodPost, "/v1/query", `{"query":"hi"}`)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusServiceUnavailable)
	}
}

func TestHTTPLogsAndStats(t *testing.T) {
	svc := &fakeService{
		toolCalls:   []agent.ToolCall{{Tool: "classify_query", Success: true, Attempts: 1}},
		securityLog: []agent.SecurityEvent{{Pattern: "developer_mode", Severity: security.SeverityHigh}},
	}
	h := NewHTTPHandler(svc, "", nil)

	rr := serve(h, http.MethodGet, "/v1/tool-calls", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "classify_query") {
		t.Fatalf("tool-calls: %d %s", rr.Code, rr.Body.String())
	}

	rr = serve(h, http.MethodGet, "/v1/stats", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"total_calls":7`) {
		t.Fatalf("stats: %d %s", rr.Code, rr.Body.String())
	}

	rr = serve(h, http.MethodGet, "/v1/security-log", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "developer_mode") {
		t.Fatalf("security-log: %d %s", rr.Code, rr.Body.String())
	}

	rr = serve(h, http.MethodDelete, "/v1/security-log", "")
	if rr.Code != http.StatusNoContent || !svc.clearedSec {
		t.Fatalf("clear security-log: %d", rr.Code)
	}

	rr = serve(h, http.MethodDelete, "/v1/history", "")
	if rr.Code != http.StatusNoContent || !svc.clearedHist {
		t.Fatalf("clear history: %d", rr.Code)
	}
}

func TestHTTPBearerAuth(t *testing.T) {
	h := NewHTTPHandler(&fakeService{}, "s3cret", nil)

	rr := serve(h, http.MethodGet, "/v1/stats", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: status = %d, want 401", rr.Code)
	}
	if got := rr.Header().Get("WWW-Authenticate"); !strings.HasPrefix(got, "Bearer") {
		t.Errorf("WWW-Authenticate = %q", got)
	}
	if rr := serve(h, http.MethodGet, "/v1/stats", "", "Authorization", "Bearer wrong"); rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: status = %d, want 401", rr.Code)
	}
	if rr := serve(h, http.MethodGet, "/v1/stats", "", "Authorization", "Basic s3cret"); rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong scheme: status = %d, want 401", rr.Code)
	}
	if rr := serve(h, http.MethodGet, "/v1/stats", "", "Authorization", "Bearer s3cret"); rr.Code != http.StatusOK {
		t.Fatalf("valid token: status = %d, want 200", rr.Code)
	}
	if rr := serve(h, http.MethodGet, "/v1/stats", "", "Authorization", "bearer s3cret"); rr.Code != http.StatusOK {
		t.Fatalf("lowercase scheme: status = %d, want 200", rr.Code)
	}
	if rr := serve(h, http.MethodGet, "/health", ""); rr.Code != http.StatusOK {
		t.Fatalf("health must stay public: status = %d", rr.Code)
	}
}

func TestHTTPMetrics(t *testing.T) {
	h := NewHTTPHandler(&fakeService{}, "s3cret", nil)

	rr := serve(h, http.MethodPost, "/v1/query", `{"query":"hello"}`, "Authorization", "Bearer s3cret")
	if rr.Code != http.StatusOK {
		t.Fatalf("query status = %d", rr.Code)
	}

	rr = serve(h, http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status = %d, want open endpoint", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		`omnidesk_http_requests_total{method="POST",route="/v1/query",status="200"} 1`,
		`omnidesk_queries_total{outcome="ok",workflow="support"} 1`,
		`omnidesk_tickets_opened_total 0`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestHTTPMetrics_SeparateRegistries(t *testing.T) {
	// Building two handlers must not panic on duplicate registration.
	NewHTTPHandler(&fakeService{}, "", nil)
	NewHTTPHandler(&fakeService{}, "", nil)
}
