package inventory

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/stockroom/internal/tenant"
)

func mustField(t *testing.T, data []byte, field string) json.RawMessage {
	t.Helper()

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &doc))
	value, ok := doc[field]
	require.True(t, ok, "field %s missing", field)
	return value
}

func mustTenant(ctx context.Context) uuid.UUID {
	id, _ := tenant.FromContext(ctx).Get()
	return id
}
