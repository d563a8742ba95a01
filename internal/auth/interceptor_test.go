package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// passHandler is a grpc.UnaryHandler that returns ("ok", nil).
func passHandler(ctx context.Context, req interface{}) (interface{}, error) {
	return "ok", nil
}

func callWithKey(t *testing.T, interceptor grpc.UnaryServerInterceptor, header, key string) (interface{}, error) {
	t.Helper()
	ctx := context.Background()
	if key != "" {
		md := metadata.Pairs(header, key)
		ctx = metadata.NewIncomingContext(ctx, md)
	}
	return interceptor(ctx, nil, &grpc.UnaryServerInfo{}, passHandler)
}

func TestAPIKeyInterceptor_ModeNone_PassesThrough(t *testing.T) {
	i := APIKeyInterceptor("none", "x-api-key", "secret")
	res, err := i(context.Background(), nil, &grpc.UnaryServerInfo{}, passHandler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != "ok" {
		t.Errorf("result: got %v, want ok", res)
	}
}

func TestAPIKeyInterceptor_EmptyKey_PassesThrough(t *testing.T) {
	i := APIKeyInterceptor("apikey", "x-api-key", "")
	res, err := i(context.Background(), nil, &grpc.UnaryServerInfo{}, passHandler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != "ok" {
		t.Errorf("result: got %v, want ok", res)
	}
}

func TestAPIKeyInterceptor_CorrectKey_Passes(t *testing.T) {
	i := APIKeyInterceptor("apikey", "x-api-key", "supersecret")
	res, err := callWithKey(t, i, "x-api-key", "supersecret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != "ok" {
		t.Errorf("result: got %v, want ok", res)
	}
}

func TestAPIKeyInterceptor_WrongKey_Rejected(t *testing.T) {
	i := APIKeyInterceptor("apikey", "x-api-key", "supersecret")
	_, err := callWithKey(t, i, "x-api-key", "wrong")
	if status.Code(err) != codes.Unauthenticated {
		t.Errorf("code: got %v, want Unauthenticated", status.Code(err))
	}
}

func TestAPIKeyInterceptor_MissingMetadata_Rejected(t *testing.T) {
	i := APIKeyInterceptor("apikey", "x-api-key", "supersecret")
	_, err := i(context.Background(), nil, &grpc.UnaryServerInfo{}, passHandler)
	if status.Code(err) != codes.Unauthenticated {
		t.Errorf("code: got %v, want Unauthenticated", status.Code(err))
	}
}

func TestAPIKeyInterceptor_WrongHeader_Rejected(t *testing.T) {
	i := APIKeyInterceptor("apikey", "x-api-key", "supersecret")
	_, err := callWithKey(t, i, "x-other", "supersecret")
	if status.Code(err) != codes.Unauthenticated {
		t.Errorf("code: got %v, want Unauthenticated", status.Code(err))
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func serve(h http.Handler, method, key string) int {
	req := httptest.NewRequest(method, "/api/v1/pvs/image:ROI_size", nil)
	if key != "" {
		req.Header.Set("X-Api-Key", key)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr.Code
}

func TestRequireAPIKey(t *testing.T) {
	h := RequireAPIKey("apikey", "x-api-key", "supersecret", okHandler())

	if code := serve(h, http.MethodGet, ""); code != http.StatusNoContent {
		t.Errorf("GET without key: got %d, want 204", code)
	}
	if code := serve(h, http.MethodPut, ""); code != http.StatusUnauthorized {
		t.Errorf("PUT without key: got %d, want 401", code)
	}
	if code := serve(h, http.MethodPut, "wrong"); code != http.StatusUnauthorized {
		t.Errorf("PUT wrong key: got %d, want 401", code)
	}
	if code := serve(h, http.MethodPut, "supersecret"); code != http.StatusNoContent {
		t.Errorf("PUT correct key: got %d, want 204", code)
	}
}

func TestRequireAPIKey_Disabled(t *testing.T) {
	h := RequireAPIKey("none", "x-api-key", "supersecret", okHandler())
	if code := serve(h, http.MethodPut, ""); code != http.StatusNoContent {
		t.Errorf("PUT with auth disabled: got %d, want 204", code)
	}
}
