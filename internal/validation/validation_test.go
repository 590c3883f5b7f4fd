package validation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/qa-harvester/internal/harvest"
)

func TestStructReportsFirstField(t *testing.T) {
	t.Parallel()

	err := Struct(harvest.JobSpec{Keyword: "ai", Limit: 5})
	require.ErrorIs(t, err, harvest.ErrValidation)

	var typed *harvest.Error
	require.True(t, errors.As(err, &typed))
	require.Equal(t, "topic", typed.Field)
	require.Equal(t, "topic is required", typed.Message)
}

func TestStructLimitBounds(t *testing.T) {
	t.Parallel()

	for _, limit := range []int{0, 101} {
		err := Struct(harvest.JobSpec{Topic: "t", Keyword: "k", Limit: limit})
		var typed *harvest.Error
		require.True(t, errors.As(err, &typed), "limit %d", limit)
		require.Equal(t, "limit", typed.Field)
	}
	require.NoError(t, Struct(harvest.JobSpec{Topic: "t", Keyword: "k", Limit: 100}))
}
