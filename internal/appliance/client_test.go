package appliance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"vpnsentry/pkg/models"
)

func decodeRPC(t *testing.T, r *http.Request) rpcRequest {
	t.Helper()
	var req rpcRequest
	require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
	return req
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{
		Host:     srv.URL,
		ADOM:     "root",
		APIToken: "secret",
		Timeout:  5 * time.Second,
	})
	require.NoError(t, err)
	return client, srv
}

func TestSubmitQuery(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/jsonrpc", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		req := decodeRPC(t, r)
		require.Equal(t, "add", req.Method)
		require.Len(t, req.Params, 1)
		params := req.Params[0].(map[string]interface{})
		require.Equal(t, "/logview/adom/root/logsearch", params["url"])
		require.Equal(t, "event", params["logtype"])

		tr := params["time-range"].(map[string]interface{})
		require.Equal(t, "2026-08-29T10:00:00", tr["start"])

		json.NewEncoder(w).Encode(map[string]interface{}{
			"result": map[string]interface{}{"tid": 42},
		})
	})

	start := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	tid, err := client.SubmitQuery(context.Background(), Query{
		LogType: "event",
		Start:   start,
		End:     start.Add(10 * time.Minute),
		Filter:  `subtype=="vpn"`,
	})
	require.NoError(t, err)
	require.Equal(t, int64(42), tid)
}

func TestSubmitQueryListShapedResult(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"result": []interface{}{map[string]interface{}{"tid": 7}},
		})
	})

	tid, err := client.SubmitQuery(context.Background(), Query{LogType: "ips"})
	require.NoError(t, err)
	require.Equal(t, int64(7), tid)
}

func TestSubmitQueryWithoutTaskIDFails(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"result": map[string]interface{}{"status": "ok"},
		})
	})

	_, err := client.SubmitQuery(context.Background(), Query{LogType: "event"})
	require.Error(t, err)
}

func TestWaitForTaskPollsUntilComplete(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		pct := 50
		if n >= 2 {
			pct = 100
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"result": map[string]interface{}{"percentage": pct},
		})
	})

	err := client.WaitForTask(context.Background(), 42, 0, 30*time.Second)
	require.NoError(t, err)
	require.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(2))
}

func TestWaitForTaskReturnsNotReadyAfterMaxWait(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"result": map[string]interface{}{"percentage": 10},
		})
	})

	err := client.WaitForTask(context.Background(), 42, 0, 500*time.Millisecond)
	require.ErrorIs(t, err, ErrNotReady)
}

func TestFetchResultsSendsPaging(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		req := decodeRPC(t, r)
		require.Equal(t, "get", req.Method)
		params := req.Params[0].(map[string]interface{})
		require.Equal(t, "/logview/adom/root/logsearch/42", params["url"])
		data := params["data"].(map[string]interface{})
		require.Equal(t, float64(1000), data["limit"])
		require.Equal(t, float64(2000), data["offset"])

		json.NewEncoder(w).Encode(map[string]interface{}{
			"result": map[string]interface{}{
				"data": []interface{}{
					map[string]interface{}{"user": "jdoe"},
				},
			},
		})
	})

	resp, err := client.FetchResults(context.Background(), 42, 1000, 2000)
	require.NoError(t, err)

	records := ExtractRecords(resp)
	require.Len(t, records, 1)
	require.Equal(t, "jdoe", records[0].String("user"))
}

func TestExtractRecordsNormalizesEnvelopeShapes(t *testing.T) {
	rec := map[string]interface{}{"user": "jdoe"}

	tests := []struct {
		name string
		resp map[string]interface{}
		want int
	}{
		{"result object", map[string]interface{}{
			"result": map[string]interface{}{"data": []interface{}{rec}},
		}, 1},
		{"result list", map[string]interface{}{
			"result": []interface{}{map[string]interface{}{"data": []interface{}{rec}}},
		}, 1},
		{"top-level data", map[string]interface{}{
			"data": []interface{}{rec, rec},
		}, 2},
		{"empty result", map[string]interface{}{
			"result": map[string]interface{}{},
		}, 0},
		{"unrecognized", map[string]interface{}{"status": "ok"}, 0},
		{"nil", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractRecords(tt.resp)
			require.Len(t, got, tt.want)
			for _, r := range got {
				require.IsType(t, models.RawRecord{}, r)
			}
		})
	}
}

func TestPostFailsOnHTTPError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})

	_, err := client.FetchResults(context.Background(), 1, 10, 0)
	require.Error(t, err)
	require.Contains(t, err.Error(), "502")
}
