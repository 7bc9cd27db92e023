package protoutil

import (
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestStructSubsetError(t *testing.T) {
	actual, err := structpb.NewStruct(map[string]any{
		"environment": "sandbox",
		"status":      0,
		"seen_before": false,
	})
	require.NoError(t, err)

	subset, err := structpb.NewStruct(map[string]any{"environment": "sandbox"})
	require.NoError(t, err)
	require.NoError(t, StructSubsetError(subset, actual))
	require.NoError(t, ProtoEqualError(actual, actual))

	differs, err := structpb.NewStruct(map[string]any{"environment": "production"})
	require.NoError(t, err)
	require.Error(t, StructSubsetError(differs, actual))

	missing, err := structpb.NewStruct(map[string]any{"receipt_id": "abc"})
	require.NoError(t, err)
	require.Error(t, StructSubsetError(missing, actual))
}
