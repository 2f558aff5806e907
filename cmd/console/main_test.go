package main

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avaropoint/mcc/internal/store"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunReturnsErrorsAndReleasesStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "console.db")

	tests := []struct {
		name string
		opts options
		want string
	}{
		{"no hosts", options{cmdType: "system_info", cmdData: "{}"}, "no hosts"},
		{"bad data", options{cmdType: "system_info", cmdData: "{"}, "parse -data"},
		{"bad host", options{hosts: []string{"host:notaport"}}, "port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.dbPath = dbPath
			err := run(quietLogger(), tt.opts)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)

			// The database was closed on the way out and opens cleanly.
			db, err := store.NewSQLiteStore(dbPath)
			require.NoError(t, err)
			hosts, err := db.ListHosts(context.Background())
			require.NoError(t, err)
			assert.Empty(t, hosts)
			require.NoError(t, db.Close())
		})
	}
}

func TestClientTLS(t *testing.T) {
	cfg, err := clientTLS(false, "", false)
	require.NoError(t, err)
	assert.Nil(t, cfg)

	cfg, err = clientTLS(false, "", true)
	require.NoError(t, err)
	assert.True(t, cfg.InsecureSkipVerify)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a:1", "b"}, splitList(" a:1, ,b,"))
	assert.Nil(t, splitList(""))
}
