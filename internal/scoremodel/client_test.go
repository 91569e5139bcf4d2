package scoremodel

//go:generate mockgen -source=client.go -destination=mocks/mocks.go -package=mocks Client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	id "trustledger/pkg/domain"
	dErrors "trustledger/pkg/domain-errors"
)

type ClientSuite struct {
	suite.Suite
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientSuite))
}

func (s *ClientSuite) request() Request {
	return Request{
		Subject:      id.Address("subject-1"),
		Identifier:   "did:tiq:alpha",
		CurrentScore: 50,
		Accounts:     []AccountInput{{Provider: "github", Username: "octocat"}},
	}
}

func (s *ClientSuite) TestScore() {
	s.Run("posts the request and decodes the result", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s.Equal(http.MethodPost, r.Method)
			s.Equal("/v1/score", r.URL.Path)
			s.Equal("application/json", r.Header.Get("Content-Type"))

			var req Request
			s.Require().NoError(json.NewDecoder(r.Body).Decode(&req))
			s.Equal(id.Address("subject-1"), req.Subject)
			s.Require().Len(req.Accounts, 1)

			_ = json.NewEncoder(w).Encode(Result{
				Score:           72,
				EvidencePointer: "evidence://model/run-1",
				Confidence:      0.87,
				ModelVersion:    "v3",
			})
		}))
		defer server.Close()

		client := NewHTTPClient(server.URL, time.Second)
		result, err := client.Score(context.Background(), s.request())
		s.Require().NoError(err)
		s.Equal(uint8(72), result.Score)
		s.Equal("evidence://model/run-1", result.EvidencePointer)
	})

	s.Run("5xx is retryable", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		client := NewHTTPClient(server.URL, time.Second)
		_, err := client.Score(context.Background(), s.request())
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
		s.True(dErrors.Retryable(err))
	})

	s.Run("422 is a permanent validation failure", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "unknown provider", http.StatusUnprocessableEntity)
		}))
		defer server.Close()

		client := NewHTTPClient(server.URL, time.Second)
		_, err := client.Score(context.Background(), s.request())
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.False(dErrors.Retryable(err))
	})

	s.Run("out-of-range score from the model is rejected", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"score": 150}`))
		}))
		defer server.Close()

		client := NewHTTPClient(server.URL, time.Second)
		_, err := client.Score(context.Background(), s.request())
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	s.Run("unreachable model is retryable", func() {
		client := NewHTTPClient("http://127.0.0.1:1", 100*time.Millisecond)
		_, err := client.Score(context.Background(), s.request())
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	})
}
