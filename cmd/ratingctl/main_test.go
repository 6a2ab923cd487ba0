package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, srv *httptest.Server, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--server", srv.URL}, args...))
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		userID = 0
		userName = ""
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestLockAcquire(t *testing.T) {
	var gotHolder string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/locks/res:42/acquire", r.URL.Path)
		var body struct {
			Holder string `json:"holder"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotHolder = body.Holder

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"ok":false,"heldBy":"u1"}`))
	}))
	defer srv.Close()

	out, err := execute(t, srv, "lock", "acquire", "res:42", "u2")
	require.NoError(t, err)
	assert.Equal(t, "u2", gotHolder)
	assert.Equal(t, "acquired=false heldBy=u1\n", out)
}

func TestLockCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "u2", r.URL.Query().Get("requester"))
		_, _ = w.Write([]byte(`{"heldBy":null}`))
	}))
	defer srv.Close()

	out, err := execute(t, srv, "lock", "check", "res:42", "u2")
	require.NoError(t, err)
	assert.Equal(t, "available\n", out)
}

func TestEditSubmit_SendsIdentity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "7", r.Header.Get("X-User-ID"))
		assert.Equal(t, "alice", r.Header.Get("X-User-Name"))
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"lockContention","message":"movie:42 is locked by bob","heldBy":"bob#8"}`))
	}))
	defer srv.Close()

	_, err := execute(t, srv, "--user-id", "7", "--user-name", "alice", "edit", "submit", "42", "4.5")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "held by bob#8"), err.Error())
}

func TestEdit_RequiresUser(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := execute(t, srv, "edit", "end", "42")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--user-id")
}

func TestRatingPut_InvalidValue(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := execute(t, srv, "rating", "put", "7", "42", "abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid value")
}
