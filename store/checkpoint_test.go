package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaged_FollowsCursorPastShortPages(t *testing.T) {
	var calls []int
	load := func(_ context.Context, before, limit int) ([]*Checkpoint, int, error) {
		calls = append(calls, before)
		switch before {
		case 0:
			// 6 and 5 scanned, 5 unreadable.
			return []*Checkpoint{{Sequence: 6}}, 5, nil
		case 5:
			return []*Checkpoint{{Sequence: 4}, {Sequence: 3}}, 3, nil
		default:
			return []*Checkpoint{{Sequence: 2}}, 0, nil
		}
	}

	history, err := Collect(Paged(context.Background(), 2, load))
	require.NoError(t, err)

	var seqs []int
	for _, cp := range history {
		seqs = append(seqs, cp.Sequence)
	}
	assert.Equal(t, []int{6, 4, 3, 2}, seqs)
	assert.Equal(t, []int{0, 5, 3}, calls)
}

func TestPaged_StopsEarly(t *testing.T) {
	calls := 0
	load := func(_ context.Context, before, limit int) ([]*Checkpoint, int, error) {
		calls++
		return []*Checkpoint{{Sequence: 9}, {Sequence: 8}}, 8, nil
	}
	for range Paged(context.Background(), 2, load) {
		break
	}
	assert.Equal(t, 1, calls)
}

func TestPaged_Error(t *testing.T) {
	boom := errors.New("boom")
	_, err := Collect(Paged(context.Background(), 2, func(context.Context, int, int) ([]*Checkpoint, int, error) {
		return nil, 0, boom
	}))
	assert.ErrorIs(t, err, boom)
}

func TestNextCursor(t *testing.T) {
	page := []*Checkpoint{{Sequence: 7}, {Sequence: 6}}
	assert.Equal(t, 6, NextCursor(page, 2))
	assert.Equal(t, 0, NextCursor(page, 3))
	assert.Equal(t, 0, NextCursor(nil, 2))
}
