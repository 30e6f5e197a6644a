package solana

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// rpcServer answers each JSON-RPC method with a canned result.
func rpcServer(t *testing.T, results map[string]interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		result, ok := results[req.Method]
		if !ok {
			t.Errorf("unexpected method %s", req.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  result,
		})
	}))
}

func TestHTTPClient_GetSlot_SendsCommitment(t *testing.T) {
	var commitment string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Params) == 1 {
			if cfg, ok := req.Params[0].(map[string]interface{}); ok {
				commitment, _ = cfg["commitment"].(string)
			}
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": 42})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, WithCommitment("confirmed"))
	slot, err := client.GetSlot(context.Background())
	if err != nil {
		t.Fatalf("GetSlot: %v", err)
	}
	if slot != 42 {
		t.Errorf("expected slot 42, got %d", slot)
	}
	if commitment != "confirmed" {
		t.Errorf("expected commitment confirmed, got %q", commitment)
	}
}

func TestHTTPClient_GetBlockTime(t *testing.T) {
	server := rpcServer(t, map[string]interface{}{"getBlockTime": int64(1700000000)})
	defer server.Close()

	ts, err := NewHTTPClient(server.URL).GetBlockTime(context.Background(), 100)
	if err != nil {
		t.Fatalf("GetBlockTime: %v", err)
	}
	if ts != 1700000000 {
		t.Errorf("expected 1700000000, got %d", ts)
	}
}

func TestHTTPClient_GetBlockTime_Null(t *testing.T) {
	server := rpcServer(t, map[string]interface{}{"getBlockTime": nil})
	defer server.Close()

	_, err := NewHTTPClient(server.URL).GetBlockTime(context.Background(), 100)
	if !errors.Is(err, ErrBlockTimeUnavailable) {
		t.Fatalf("expected ErrBlockTimeUnavailable, got %v", err)
	}
}

func TestHTTPClient_Retry(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": int64(999)})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL,
		WithMaxRetries(3),
		WithRetryDelay(10*time.Millisecond),
	)

	slot, err := client.GetSlot(context.Background())
	if err != nil {
		t.Fatalf("GetSlot: %v", err)
	}
	if slot != 999 {
		t.Errorf("expected slot 999, got %d", slot)
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestHTTPClient_RPCError(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error":   map[string]interface{}{"code": -32600, "message": "Invalid Request"},
		})
	}))
	defer server.Close()

	_, err := NewHTTPClient(server.URL, WithRetryDelay(time.Millisecond)).GetSlot(context.Background())

	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected *RPCError, got %T", err)
	}
	if rpcErr.Code != -32600 {
		t.Errorf("expected code -32600, got %d", rpcErr.Code)
	}
	if attempts.Load() != 1 {
		t.Errorf("RPC errors must not be retried, got %d attempts", attempts.Load())
	}
}

func TestHTTPClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewHTTPClient(server.URL).GetSlot(ctx); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

func TestClusterClock_Now(t *testing.T) {
	server := rpcServer(t, map[string]interface{}{
		"getSlot":      int64(250000000),
		"getBlockTime": int64(1710000123),
	})
	defer server.Close()

	clock := NewClusterClock(NewHTTPClient(server.URL))
	now, err := clock.Now(context.Background())
	if err != nil {
		t.Fatalf("Now: %v", err)
	}
	if now != 1710000123 {
		t.Errorf("expected 1710000123, got %d", now)
	}
}

func TestHTTPClient_LatencyObserver(t *testing.T) {
	server := rpcServer(t, map[string]interface{}{"getSlot": 7})
	defer server.Close()

	var methods []string
	client := NewHTTPClient(server.URL, WithLatencyObserver(func(method string, d time.Duration) {
		methods = append(methods, method)
		if d < 0 {
			t.Errorf("negative duration %v", d)
		}
	}))

	if _, err := client.GetSlot(context.Background()); err != nil {
		t.Fatalf("GetSlot: %v", err)
	}
	if len(methods) != 1 || methods[0] != "getSlot" {
		t.Errorf("observed %v, want [getSlot]", methods)
	}
}
