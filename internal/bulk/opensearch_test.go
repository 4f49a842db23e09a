package bulk

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/codeingest/internal/models"
)

// fakeBulkServer answers _bulk requests, rejecting the ids in reject.
func fakeBulkServer(t *testing.T, reject map[string]bool, status *int32) (*httptest.Server, *[]int) {
	t.Helper()
	var sizes []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s := atomic.LoadInt32(status); s != 0 {
			w.WriteHeader(int(s))
			return
		}
		assert.Equal(t, "/_bulk", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "admin", user)
		assert.Equal(t, "secret", pass)

		var items []map[string]any
		sc := bufio.NewScanner(r.Body)
		sc.Buffer(make([]byte, 1024*1024), 1024*1024)
		hasErrors := false
		for sc.Scan() {
			var action struct {
				Index models.IndexAction `json:"index"`
			}
			if !assert.NoError(t, json.Unmarshal(sc.Bytes(), &action)) ||
				!assert.True(t, sc.Scan(), "document line missing") {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			var doc map[string]any
			if !assert.NoError(t, json.Unmarshal(sc.Bytes(), &doc)) {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			assert.Equal(t, action.Index.ID, doc["doc_id"])

			res := map[string]any{"_index": action.Index.Index, "_id": action.Index.ID, "status": 201}
			if reject[action.Index.ID] {
				hasErrors = true
				res["status"] = 400
				res["error"] = map[string]any{"type": "mapper_parsing_exception", "reason": "failed to parse field [start_line]"}
			}
			items = append(items, map[string]any{"index": res})
		}
		sizes = append(sizes, len(items))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"took": 3, "errors": hasErrors, "items": items})
	}))
	t.Cleanup(srv.Close)
	return srv, &sizes
}

func newTestOpenSearch(t *testing.T, url string) *OpenSearch {
	t.Helper()
	o, err := NewOpenSearch(OpenSearchConfig{URL: url, Username: "admin", Password: "secret", Timeout: 5 * time.Second})
	require.NoError(t, err)
	return o
}

func TestOpenSearch_Bulk(t *testing.T) {
	var status int32
	srv, sizes := fakeBulkServer(t, nil, &status)
	o := newTestOpenSearch(t, srv.URL)
	assert.Equal(t, "opensearch", o.Name())
	assert.False(t, o.RequiresEmbeddings())

	items, err := o.Bulk(context.Background(), testPairs(5))
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, []int{5}, *sizes)
	assert.NoError(t, o.Close())
}

func TestOpenSearch_oneItemErrorAmongThousand(t *testing.T) {
	var status int32
	srv, sizes := fakeBulkServer(t, map[string]bool{"id-0617": true}, &status)
	s := NewSubmitter(newTestOpenSearch(t, srv.URL), WithRetry(fastRetry(3)))
	ctx := context.Background()

	var err error
	for _, p := range testPairs(1000) {
		if err = s.Add(ctx, p); err != nil {
			break
		}
	}
	require.Error(t, err, "the 1000th Add triggers the flush")
	assert.ErrorIs(t, err, models.ErrIndexingFailure)

	var ierr *IndexingError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, 1, ierr.Failed)
	assert.Equal(t, 1000, ierr.Total)
	require.Len(t, ierr.Items, 1)
	assert.Equal(t, "id-0617", ierr.Items[0].ID)
	assert.Equal(t, 400, ierr.Items[0].Status)
	assert.Equal(t, "mapper_parsing_exception", ierr.Items[0].Type)
	assert.Equal(t, []int{1000}, *sizes)
}

func TestOpenSearch_serverErrorIsRetryable(t *testing.T) {
	status := int32(http.StatusServiceUnavailable)
	srv, _ := fakeBulkServer(t, nil, &status)
	o := newTestOpenSearch(t, srv.URL)

	_, err := o.Bulk(context.Background(), testPairs(1))
	require.Error(t, err)
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusServiceUnavailable, te.Status)
	assert.True(t, te.Retryable())
}

func TestOpenSearch_unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	o := newTestOpenSearch(t, url)
	_, err := o.Bulk(context.Background(), testPairs(1))
	require.Error(t, err)
	assert.True(t, isRetryable(err))
}

func TestNewOpenSearch_requiresURL(t *testing.T) {
	_, err := NewOpenSearch(OpenSearchConfig{})
	assert.Error(t, err)
}

func TestEncodeNDJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeNDJSON(&buf, testPairs(2)))
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, `{"index":{"_index":"code-chunks","_id":"id-0000"}}`, lines[0])
	assert.Contains(t, lines[1], `"ingested_at":"2025-03-04T05:06:07Z"`)
	assert.Contains(t, lines[1], `"start_line":1`)
	assert.NotContains(t, lines[1], "embedding")
	assert.Equal(t, `{"index":{"_index":"code-chunks","_id":"id-0001"}}`, lines[2])
}

func TestParseBulkResponse(t *testing.T) {
	pairs := testPairs(3)
	body := `{"errors":true,"items":[
		{"index":{"_id":"id-0000","status":201}},
		{"index":{"status":429,"error":"es_rejected_execution_exception"}},
		{"create":{"_id":"id-0002","status":409,"error":{"type":"version_conflict_engine_exception","reason":"conflict"}}}
	]}`
	items, err := parseBulkResponse(strings.NewReader(body), pairs)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, ItemError{ID: "id-0001", Status: 429, Reason: "es_rejected_execution_exception"}, items[0])
	assert.Equal(t, "version_conflict_engine_exception", items[1].Type)

	items, err = parseBulkResponse(strings.NewReader(`{"errors":false,"items":[]}`), pairs)
	require.NoError(t, err)
	assert.Nil(t, items)

	_, err = parseBulkResponse(strings.NewReader(`not json`), pairs)
	assert.Error(t, err)
}

func TestParseBulkResponse_truncatesLongReason(t *testing.T) {
	long := strings.Repeat("x", 4*maxReasonLen)
	body := `{"errors":true,"items":[{"index":{"_id":"id-0000","status":400,"error":{"type":"mapper_parsing_exception","reason":"` + long + `"}}}]}`
	items, err := parseBulkResponse(strings.NewReader(body), testPairs(1))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Len(t, items[0].Reason, maxReasonLen+len("..."))
	assert.True(t, strings.HasPrefix(items[0].Reason, "xxx"))
}
