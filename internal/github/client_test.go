package github

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateBranchResolvesBaseThenCreatesRef(t *testing.T) {
	var created map[string]string
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/portal/git/ref/heads/main", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"object":{"sha":"abc123"}}`))
	})
	mux.HandleFunc("/repos/acme/portal/git/refs", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		_ = json.NewDecoder(r.Body).Decode(&created)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL, "tok", time.Second)
	require.NoError(t, c.CreateBranch(context.Background(), "acme", "portal", "feature/login", ""))
	assert.Equal(t, "refs/heads/feature/login", created["ref"])
	assert.Equal(t, "abc123", created["sha"])
}

func TestListBranchesAndErrors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/portal/branches", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"name":"main","commit":{"sha":"1"}},{"name":"dev","commit":{"sha":"2"}}]`))
	})
	mux.HandleFunc("/repos/acme/missing/branches", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Not Found"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL, "", time.Second)
	branches, err := c.ListBranches(context.Background(), "acme", "portal")
	require.NoError(t, err)
	require.Len(t, branches, 2)
	assert.Equal(t, "2", branches[1].Commit.SHA)

	_, err = c.ListBranches(context.Background(), "acme", "missing")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "Not Found", apiErr.Message)
}

func TestParseRepository(t *testing.T) {
	cases := map[string][2]string{
		"acme/portal":                        {"acme", "portal"},
		"https://github.com/acme/portal.git": {"acme", "portal"},
		"github.com/acme/portal/":            {"acme", "portal"},
	}
	for in, want := range cases {
		owner, repo, ok := ParseRepository(in)
		require.True(t, ok, in)
		assert.Equal(t, want[0], owner)
		assert.Equal(t, want[1], repo)
	}
	for _, bad := range []string{"", "portal", "a/b/c"} {
		_, _, ok := ParseRepository(bad)
		assert.False(t, ok, bad)
	}
}
