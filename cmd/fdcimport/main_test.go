package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/fooddata-graph/internal/pkg/importerr"
)

const scenarioDoc = `{"FoundationFoods": [
  {"fdcId": 1, "description": "Lentils", "foodCategory": {"description": "Legumes"},
   "foodNutrients": [{"nutrient": {"id": 1, "name": "Protein", "unitName": "g"}, "amount": 7.5}]},
  {"fdcId": 2, "description": "Chickpeas", "foodCategory": {"description": "Legumes"},
   "foodNutrients": [{"nutrient": {"id": 1}, "amount": 9.0}, {"nutrient": {"id": 2, "name": "Fat", "unitName": "g"}, "amount": 0.5}]},
  {"fdcId": 3, "description": "Carrot", "foodCategory": {"description": "Vegetables"},
   "foodNutrients": [{"nutrient": {}, "amount": 2.0}]}
]}`

func isolateEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"FDC_SOURCE", "FDC_SELECTOR", "REDIS_ADDR", "PUSHGATEWAY_URL", "OTEL_ENABLED", "FDC_MERGE"} {
		t.Setenv(k, "")
	}
	t.Setenv("LOG_MODE", "production")
	t.Setenv("LOG_LEVEL", "error")
}

func run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := Execute(context.Background(), root)
	return out.String(), errOut.String(), err
}

func writeSource(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "foundation.json")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	return path
}

func TestImportDryRun(t *testing.T) {
	isolateEnv(t)
	out, _, err := run(t, "", "import", "--dry-run", "--source", writeSource(t, scenarioDoc))
	require.NoError(t, err)
	assert.Contains(t, out, "records: 3 read, 3 imported, 2 nutrients, 2 categories")
	assert.Contains(t, out, "incomplete_nutrient_measurement")
	assert.Contains(t, out, "Foods:                  3")
	assert.Contains(t, out, "Nutrient relationships: 3")
}

func TestImportDryRunJSON(t *testing.T) {
	isolateEnv(t)
	out, _, err := run(t, "", "import", "--dry-run", "--json", "--parallel", "2", "--source", writeSource(t, scenarioDoc))
	require.NoError(t, err)

	var rep struct {
		RunID    string         `json:"run_id"`
		Imported int            `json:"imported"`
		Skipped  map[string]int `json:"skipped"`
		Phases   []struct {
			Phase     string `json:"phase"`
			Committed int    `json:"committed"`
		} `json:"phases"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.NotEmpty(t, rep.RunID)
	assert.Equal(t, 3, rep.Imported)
	assert.Equal(t, 1, rep.Skipped["incomplete_nutrient_measurement"])
	require.Len(t, rep.Phases, 3)
	assert.Equal(t, "foods", rep.Phases[1].Phase)
}

func TestImportMalformedExitCode(t *testing.T) {
	isolateEnv(t)
	root := newRootCmd()
	root.SetArgs([]string{"import", "--dry-run", "--source", writeSource(t, `{"FoundationFoods": {}}`)})
	var errOut bytes.Buffer
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&errOut)
	err := Execute(context.Background(), root)
	require.Error(t, err)
	assert.Equal(t, exitSource, handleError(root, err))
	assert.Contains(t, errOut.String(), "malformed_document")
}

func TestImportWithoutSourceIsConfigError(t *testing.T) {
	isolateEnv(t)
	root := newRootCmd()
	root.SetArgs([]string{"import", "--dry-run"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	err := Execute(context.Background(), root)
	require.Error(t, err)
	assert.Equal(t, exitConfig, handleError(root, err))
}

func TestConfirm(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.SetErr(&bytes.Buffer{})

	for input, ok := range map[string]bool{"yes\n": true, "Y\n": true, "no\n": false, "\n": false, "": false, "yes": true} {
		cmd.SetIn(strings.NewReader(input))
		err := confirm(cmd, false, "Proceed?")
		if ok {
			assert.NoError(t, err, "input %q", input)
		} else {
			assert.ErrorIs(t, err, errAborted, "input %q", input)
		}
	}

	cmd.SetIn(strings.NewReader(""))
	assert.NoError(t, confirm(cmd, true, "Proceed?"))
}

func TestCleanupDeclined(t *testing.T) {
	isolateEnv(t)
	_, stderr, err := run(t, "no\n", "cleanup")
	assert.ErrorIs(t, err, errAborted)
	assert.Contains(t, stderr, "(yes/no)")
}

func TestHandleErrorBatchFailure(t *testing.T) {
	cmd := &cobra.Command{}
	var errOut bytes.Buffer
	cmd.SetErr(&errOut)

	err := importerr.BatchFailure("foods", 4, 3, errors.New("constraint violated"))
	assert.Equal(t, exitBatchFailure, handleError(cmd, err))
	assert.Contains(t, errOut.String(), "phase foods at batch 4; 3 batches of that phase committed")

	assert.Equal(t, exitVerify, handleError(cmd, importerr.New(importerr.VerificationMismatch, "verify", "foods want=1 got=2")))
	assert.Equal(t, exitCancelled, handleError(cmd, context.Canceled))
	assert.Equal(t, exitError, handleError(cmd, errors.New("boom")))
	assert.Equal(t, exitSuccess, handleError(cmd, nil))
}
