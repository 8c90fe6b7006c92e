package httperrors

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/husmancristian/TA_TESTMANAGER/pkg/csvio"
	"github.com/husmancristian/TA_TESTMANAGER/pkg/engine"
)

func TestFromError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantKind   string
		wantIDs    []int64
	}{
		{name: "not found", err: &engine.NotFoundError{Entity: "test session", ID: 3}, wantStatus: http.StatusNotFound},
		{
			name:       "wrapped invalid scope",
			err:        fmt.Errorf("create: %w", &engine.ValidationError{Kind: engine.InvalidScope, Message: "bad", IDs: []int64{4, 9}}),
			wantStatus: http.StatusBadRequest,
			wantKind:   "InvalidScope",
			wantIDs:    []int64{4, 9},
		},
		{name: "conflict", err: &engine.ConflictError{Expected: "NOT_TESTED", Actual: "PASS"}, wantStatus: http.StatusConflict},
		{name: "csv format", err: &csvio.FormatError{Row: 2, Message: "x"}, wantStatus: http.StatusBadRequest},
		{name: "anything else", err: errors.New("disk on fire"), wantStatus: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			FromError(rec, logger, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantStatus, body.Status)
			assert.Equal(t, http.StatusText(tt.wantStatus), body.Error)
			assert.Equal(t, tt.wantKind, body.Kind)
			assert.Equal(t, tt.wantIDs, body.IDs)
			assert.NotEmpty(t, body.Message)
			if tt.wantStatus == http.StatusInternalServerError {
				assert.NotContains(t, body.Message, "disk on fire")
			}
		})
	}
}
