// Package auth provides API key authentication for the IOC's gRPC and HTTP
// surfaces.
//
// APIKeyInterceptor is a grpc.UnaryServerInterceptor that reads the API key
// from incoming gRPC metadata. RequireAPIKey wraps an http.Handler and checks
// the same key on state-changing requests (PUT, POST, DELETE, PATCH); reads
// stay open so monitors and dashboards need no credentials.
//
// Both pass everything through when mode != "apikey" or the key is empty.
package auth
