package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	cases := map[string]Status{
		"PENDING":    StatusPending,
		"processing": StatusProcessing,
		"Completed":  StatusCompleted,
		"FAILED":     StatusFailed,
		"ERROR":      StatusFailed,
	}
	for in, want := range cases {
		got, err := ParseStatus(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseStatus("DONE")
	assert.Error(t, err)
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, StatusPending.CanTransition(StatusProcessing))
	assert.True(t, StatusPending.CanTransition(StatusFailed))
	assert.False(t, StatusPending.CanTransition(StatusCompleted))
	assert.True(t, StatusProcessing.CanTransition(StatusProcessing))
	assert.True(t, StatusProcessing.CanTransition(StatusCompleted))
	assert.True(t, StatusProcessing.CanTransition(StatusFailed))
	assert.False(t, StatusProcessing.CanTransition(StatusPending))
	for _, terminal := range []Status{StatusCompleted, StatusFailed} {
		assert.True(t, terminal.Terminal())
		for _, next := range []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed} {
			assert.False(t, terminal.CanTransition(next), "%s -> %s", terminal, next)
		}
	}
}

func TestScanFinishCompleted(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	scan := NewScan("id-1", "images/id-1.png", "image/png", "", created)
	assert.Equal(t, "anonymous", scan.UserID)
	assert.Equal(t, StatusPending, scan.Status)

	require.NoError(t, scan.MarkProcessing(created.Add(time.Second)))
	assert.Equal(t, StatusProcessing, scan.Status)

	done := created.Add(2 * time.Second)
	result := Result{
		CatsFound:         true,
		CatCount:          1,
		HighestConfidence: 95.5,
		Labels:            []Label{{Name: "Cat", Confidence: 95.5}, {Name: "Animal", Confidence: 99}},
		CatLabels:         []Label{{Name: "Cat", Confidence: 95.5}},
	}
	require.NoError(t, scan.Finish(Completed{Result: result}, done))
	assert.Equal(t, StatusCompleted, scan.Status)
	assert.Equal(t, done, scan.UpdatedAt)
	require.NotNil(t, scan.CompletedAt)
	require.NotNil(t, scan.Result)
	assert.InDelta(t, 95.5, scan.Result.HighestConfidence, 0.001)

	// Terminal records reject every later write and stay untouched.
	before := scan.Clone()
	assert.ErrorIs(t, scan.Finish(Failed{Message: "late"}, done.Add(time.Minute)), ErrTerminal)
	assert.ErrorIs(t, scan.MarkProcessing(done.Add(time.Minute)), ErrTerminal)
	assert.Equal(t, before, scan)
}

func TestScanFinishFailed(t *testing.T) {
	scan := NewScan("id-2", "images/id-2.jpg", "image/jpeg", "u1", time.Now())
	require.NoError(t, scan.Finish(Failed{Message: "detector unavailable"}, time.Now()))
	assert.Equal(t, StatusFailed, scan.Status)
	assert.Equal(t, "detector unavailable", scan.ErrorMessage)
	assert.Nil(t, scan.Result)
	assert.Nil(t, scan.CompletedAt)
}

func TestCloneIsDeep(t *testing.T) {
	scan := NewScan("id-3", "k", "image/png", "", time.Now())
	require.NoError(t, scan.MarkProcessing(time.Now()))
	require.NoError(t, scan.Finish(Completed{Result: Result{Labels: []Label{{Name: "Cat", Confidence: 90}}}}, time.Now()))
	cp := scan.Clone()
	cp.Result.Labels[0].Name = "Dog"
	assert.Equal(t, "Cat", scan.Result.Labels[0].Name)
}

func TestObjectKeys(t *testing.T) {
	id := "5f1c6c1e-5a53-4c1e-9b0e-2a0d4b8f2c11"
	key, err := ObjectKey(ImagePrefix, id, "image/PNG")
	require.NoError(t, err)
	assert.Equal(t, "images/"+id+".png", key)

	key, err = ObjectKey(UploadPrefix, id, "image/jpg")
	require.NoError(t, err)
	assert.Equal(t, "uploads/"+id+".jpg", key)

	got, err := ScanIDFromKey(key)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = ScanIDFromKey("uploads/../etc/passwd")
	assert.Error(t, err)

	_, err = ObjectKey(ImagePrefix, id, "image/gif")
	assert.Error(t, err)
}

func TestNormalizeContentType(t *testing.T) {
	assert.Equal(t, "image/jpeg", NormalizeContentType(" IMAGE/JPG "))
	assert.Equal(t, "image/png", NormalizeContentType("image/png; charset=binary"))
	assert.Equal(t, "image/gif", NormalizeContentType("image/gif"))
}

func TestScanCompletesOnlyFromProcessing(t *testing.T) {
	scan := NewScan("id-4", "images/id-4.png", "image/png", "", time.Now())
	before := scan.Clone()
	err := scan.Finish(Completed{Result: Result{CatsFound: true, CatCount: 1}}, time.Now())
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, before, scan)
}
