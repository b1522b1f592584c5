package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/knowledge-engine/internal/knowledge"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "storage:\n  data_dir: " + filepath.Join(dir, "data") + "\n  gc_interval_seconds: 0\n" +
		"server:\n  enabled: false\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestEnqueuePrintsNormalizedKeys(t *testing.T) {
	cfg := writeConfig(t)

	out, err := execute(t, "--config", cfg, "enqueue", "HTTPS://Example.com/a#frag", "https://example.com/b")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/a", "https://example.com/b"}, strings.Fields(out))
}

func TestEnqueueRejectsInvalidBatch(t *testing.T) {
	cfg := writeConfig(t)

	_, err := execute(t, "--config", cfg, "enqueue", "https://example.com/ok", "ftp://example.com/nope")
	require.Error(t, err)
}

func TestEntitiesOnEmptyGraph(t *testing.T) {
	cfg := writeConfig(t)

	out, err := execute(t, "--config", cfg, "entities", "--label", "Person")
	require.NoError(t, err)

	var entities []knowledge.Entity
	require.NoError(t, json.Unmarshal([]byte(out), &entities))
	assert.Empty(t, entities)
}

func TestRelationsRequiresName(t *testing.T) {
	cfg := writeConfig(t)

	_, err := execute(t, "--config", cfg, "relations")
	require.Error(t, err)
}

func TestDocumentMissing(t *testing.T) {
	cfg := writeConfig(t)

	_, err := execute(t, "--config", cfg, "document", "https://example.com/missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no document stored for https://example.com/missing")
}

func TestRunRequiresExtractorKey(t *testing.T) {
	cfg := writeConfig(t)
	t.Setenv("KNOWLEDGE_EXTRACTOR_API_KEY", "")

	_, err := execute(t, "--config", cfg, "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extractor.api_key")
}
