package task

import (
	"testing"

	"github.com/jasoet/go-iguazu/task/artifacts"
	"github.com/jasoet/go-iguazu/task/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOptions_Defaults(t *testing.T) {
	opts, err := NewOptions()
	require.NoError(t, err)

	assert.False(t, opts.Force)
	assert.Equal(t, artifacts.DefaultJournalFamily, opts.JournalFamily)
	assert.Equal(t, DefaultCachePolicy, opts.Cache)
	assert.Empty(t, opts.ManagedInputsErrorKind)
	assert.False(t, opts.AutoCleanFiles)
}

func TestNewOptions_Apply(t *testing.T) {
	opts, err := NewOptions(
		WithForce(true),
		WithGracefulKinds("ecg.NoSignal"),
		WithJournalFamily("provenance"),
		WithManagedInput("signals", "/ecg", table.ReadOptions{Columns: []string{"value"}}),
		WithManagedInputsErrorKind(KindSoftPreconditionFailed),
		WithAutoCleanFiles(true),
		WithCachePolicy(CachePolicy{ByInputs: true}),
	)
	require.NoError(t, err)

	assert.True(t, opts.Force)
	assert.Equal(t, []ErrorKind{"ecg.NoSignal"}, opts.GracefulKinds)
	assert.Equal(t, "provenance", opts.JournalFamily)
	assert.Equal(t, ManagedInput{Key: "/ecg", Read: table.ReadOptions{Columns: []string{"value"}}}, opts.ManagedInputs["signals"])
	assert.Equal(t, KindSoftPreconditionFailed, opts.ManagedInputsErrorKind)
	assert.True(t, opts.AutoCleanFiles)
	assert.Equal(t, CachePolicy{ByInputs: true}, opts.Cache)
}

func TestNewOptions_Validation(t *testing.T) {
	tests := []struct {
		name        string
		opts        []Option
		expectError bool
	}{
		{name: "defaults", expectError: false},
		{name: "empty journal family", opts: []Option{WithJournalFamily("")}, expectError: true},
		{name: "managed input without key", opts: []Option{WithManagedInput("signals", "", table.ReadOptions{})}, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewOptions(tt.opts...)
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOptions_IsGraceful(t *testing.T) {
	opts := mustOptions(WithGracefulKinds("ecg.NoSignal"))

	assert.True(t, opts.IsGraceful(KindPreconditionFailed))
	assert.True(t, opts.IsGraceful(KindSoftPreconditionFailed))
	assert.True(t, opts.IsGraceful(KindPreviousResultsExist))
	assert.True(t, opts.IsGraceful(KindGracefulFailWithPartialResults))
	assert.True(t, opts.IsGraceful("ecg.NoSignal"))

	assert.False(t, opts.IsGraceful(KindPostconditionFailed))
	assert.False(t, opts.IsGraceful(KindBackendUnavailable))
	assert.False(t, opts.IsGraceful(KindUnclassified))
}
