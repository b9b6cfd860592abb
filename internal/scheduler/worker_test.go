package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/CzarX86/CoupaDownloads-sub000/internal/model"
)

func TestRunWorkerLoop_ProcessesEachItemAndEncodesResults(t *testing.T) {
	var in bytes.Buffer
	enc := json.NewEncoder(&in)
	require.NoError(t, enc.Encode(model.PoWorkItem{DisplayID: "PO1", NumericID: "1"}))
	require.NoError(t, enc.Encode(model.PoWorkItem{DisplayID: "PO2", NumericID: "2"}))

	var processed []string
	process := func(ctx context.Context, item model.PoWorkItem) model.PoResult {
		processed = append(processed, item.DisplayID)
		return model.PoResult{DisplayID: item.DisplayID, StatusCode: model.StatusCompleted, Success: true}
	}

	var out bytes.Buffer
	dec := json.NewDecoder(&in)
	err := runWorkerLoop(context.Background(), dec, &out, process, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, []string{"PO1", "PO2"}, processed)

	outDec := json.NewDecoder(&out)
	var r1, r2 model.PoResult
	require.NoError(t, outDec.Decode(&r1))
	require.NoError(t, outDec.Decode(&r2))
	assert.Equal(t, "PO1", r1.DisplayID)
	assert.Equal(t, "PO2", r2.DisplayID)
}

func TestRunWorkerLoop_StopsOnContextCancellation(t *testing.T) {
	var in bytes.Buffer
	enc := json.NewEncoder(&in)
	require.NoError(t, enc.Encode(model.PoWorkItem{DisplayID: "PO1"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	dec := json.NewDecoder(&in)
	process := func(ctx context.Context, item model.PoWorkItem) model.PoResult {
		t.Fatal("process should not be called once context is already cancelled")
		return model.PoResult{}
	}

	err := runWorkerLoop(ctx, dec, &out, process, zap.NewNop())
	require.NoError(t, err)
	assert.Empty(t, out.Bytes())
}
