package search

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newMockServer(body string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
}

func TestSearchMemos_NilClassReturnsEmpty(t *testing.T) {
	srv := newMockServer(`{"data":{"Get":{"Memo":null}}}`)
	defer srv.Close()

	host := strings.TrimPrefix(srv.URL, "http://")
	s, err := NewWaviateSearcher(host)
	if err != nil {
		t.Fatalf("new searcher: %v", err)
	}

	res, err := s.SearchMemos(context.Background(), "ws1", nil, "q", []float32{1}, 5, 0.6)
	if err != nil {
		t.Fatalf("search err: %v", err)
	}
	if len(res) != 0 {
		t.Fatalf("expected 0 results, got %d", len(res))
	}
}

func TestSearchMessages_TenantNotFoundError(t *testing.T) {
	srv := newMockServer(`{"data":{"Get":{"Message":null}},"errors":[{"message":"tenant not found: \"ws1\""}]}`)
	defer srv.Close()
	host := strings.TrimPrefix(srv.URL, "http://")
	s, _ := NewWaviateSearcher(host)

	_, err := s.SearchMessages(context.Background(), "ws1", []string{"stream1"}, "q", []float32{1}, 5, 0.6)
	if !errors.Is(err, ErrTenantNotFound) {
		t.Fatalf("expected ErrTenantNotFound, got %v", err)
	}
}

func TestSearchAttachments_ParsesHits(t *testing.T) {
	body := `{"data":{"Get":{"Attachment":[
		{"objId":"a1","streamId":"s1","workspaceId":"ws1","snippet":"invoice.pdf","_additional":{"score":"0.8"}}
	]}}}`
	srv := newMockServer(body)
	defer srv.Close()
	host := strings.TrimPrefix(srv.URL, "http://")
	s, _ := NewWaviateSearcher(host)

	res, err := s.SearchAttachments(context.Background(), "ws1", []string{"s1"}, "invoice", 5)
	if err != nil {
		t.Fatalf("search err: %v", err)
	}
	if len(res) != 1 || res[0].ID != "a1" || res[0].Score != 0.8 {
		t.Fatalf("unexpected results: %+v", res)
	}
}
