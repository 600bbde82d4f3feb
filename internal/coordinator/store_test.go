package coordinator

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestWhenDisarmed(t *testing.T) {
	s := New(false)
	_, err := s.Request(1, NoLabel)
	assert.ErrorIs(t, err, ErrDisallowed)
}

func TestArmedWildcardGrantsOnce(t *testing.T) {
	s := New(false)
	require.NoError(t, s.Arm(nil))

	g, err := s.Request(1, "anything")
	require.NoError(t, err)
	assert.False(t, g.Pseudo)
	assert.Equal(t, "anything", g.Label)

	_, err = s.Request(2, "anything")
	assert.ErrorIs(t, err, ErrDisallowed)
	assert.Equal(t, Caller(1), s.Snapshot().Owner)
}

func TestLabelMismatchIsRejected(t *testing.T) {
	s := New(false)
	require.NoError(t, s.Arm([]string{"A", "b"}))

	_, err := s.Request(1, "c")
	assert.ErrorIs(t, err, ErrInvalidLabel)
	assert.True(t, s.Pending())

	g, err := s.Request(2, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", g.Label)
}

func TestNoLabelMatchesArmedStore(t *testing.T) {
	s := New(false)
	require.NoError(t, s.Arm([]string{"a"}))
	_, err := s.Request(1, NoLabel)
	require.NoError(t, err)
}

func TestReleaseOnlyByOwner(t *testing.T) {
	s := New(false)
	require.NoError(t, s.Arm(nil))
	_, err := s.Request(7, NoLabel)
	require.NoError(t, err)

	assert.ErrorIs(t, s.Release(8), ErrNeverStarted)
	require.NoError(t, s.Release(7))
	assert.ErrorIs(t, s.Release(7), ErrNeverStarted)

	snap := s.Snapshot()
	assert.False(t, snap.Armed)
	assert.Zero(t, snap.Owner)
}

func TestConcurrentRequestsGrantExactlyOne(t *testing.T) {
	for round := 0; round < 50; round++ {
		s := New(false)
		require.NoError(t, s.Arm(nil))

		var granted atomic.Int32
		var wg sync.WaitGroup
		for i := 1; i <= 32; i++ {
			wg.Add(1)
			go func(c Caller) {
				defer wg.Done()
				if _, err := s.Request(c, NoLabel); err == nil {
					granted.Add(1)
				} else if !errors.Is(err, ErrDisallowed) {
					t.Errorf("unexpected error %v", err)
				}
			}(Caller(i))
		}
		wg.Wait()
		require.Equal(t, int32(1), granted.Load())
	}
}

func TestTransitionGrantsPseudoWhileOwned(t *testing.T) {
	s := New(true)
	require.NoError(t, s.Arm([]string{"a", "b", "c"}))

	g, err := s.Request(1, "b")
	require.NoError(t, err)
	assert.False(t, g.Pseudo)

	g, err = s.Request(2, "c")
	require.NoError(t, err)
	assert.True(t, g.Pseudo)

	_, err = s.Request(3, "c")
	assert.ErrorIs(t, err, ErrDisallowed)

	require.NoError(t, s.Release(1))
	assert.Equal(t, []string{"a"}, s.Snapshot().Labels)
	require.True(t, s.Rearm())

	g, err = s.Request(4, "a")
	require.NoError(t, err)
	assert.False(t, g.Pseudo)
	require.NoError(t, s.Release(4))
	assert.False(t, s.Rearm())
}

func TestForceRelease(t *testing.T) {
	s := New(false)
	require.NoError(t, s.Arm(nil))
	_, err := s.Request(3, NoLabel)
	require.NoError(t, err)

	prev, ok := s.ForceRelease()
	assert.True(t, ok)
	assert.Equal(t, Caller(3), prev)
	assert.ErrorIs(t, s.Release(3), ErrNeverStarted)
}

func TestClosedStore(t *testing.T) {
	s := New(false)
	require.NoError(t, s.Arm(nil))
	s.Close()

	_, err := s.Request(1, NoLabel)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Arm(nil), ErrClosed)
	assert.True(t, s.Snapshot().Closed)
}

func TestNormalizeLabels(t *testing.T) {
	got, err := NormalizeLabels([]string{" B ", "a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)

	_, err = NormalizeLabels([]string{"bad label"})
	assert.ErrorIs(t, err, ErrBadLabel)
	_, err = NormalizeLabel("")
	assert.ErrorIs(t, err, ErrBadLabel)
}

func TestConsumeOnlyAffectsOneShotGrants(t *testing.T) {
	oneShot := New(false)
	require.NoError(t, oneShot.Arm([]string{"a", "b"}))
	_, err := oneShot.Request(1, "a")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, oneShot.Snapshot().Labels)
	oneShot.Consume("a")
	assert.Equal(t, []string{"b"}, oneShot.Snapshot().Labels)

	transition := New(true)
	require.NoError(t, transition.Arm([]string{"a", "b"}))
	_, err = transition.Request(1, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, transition.Snapshot().Labels)
	transition.Consume("a")
	assert.Equal(t, []string{"b"}, transition.Snapshot().Labels)
}
