package firestore

import (
	"errors"
	"testing"

	"cloud.google.com/go/firestore"
	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vovakirdan/wirechat-sync/internal/docstore"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
	}{
		{"not found", status.Error(codes.NotFound, "missing"), docstore.ErrNotFound},
		{"unavailable", status.Error(codes.Unavailable, "down"), docstore.ErrUnavailable},
		{"deadline", status.Error(codes.DeadlineExceeded, "slow"), docstore.ErrUnavailable},
		{"aborted", status.Error(codes.Aborted, "contention"), docstore.ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, mapError(tt.err), tt.target)
		})
	}

	denied := status.Error(codes.PermissionDenied, "no")
	got := mapError(denied)
	assert.False(t, errors.Is(got, docstore.ErrUnavailable))
	assert.False(t, docstore.IsRetryable(got))
}

func TestChangeKind(t *testing.T) {
	assert.Equal(t, docstore.ChangeAdded, changeKind(firestore.DocumentAdded))
	assert.Equal(t, docstore.ChangeModified, changeKind(firestore.DocumentModified))
	assert.Equal(t, docstore.ChangeRemoved, changeKind(firestore.DocumentRemoved))
}
