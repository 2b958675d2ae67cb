package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ricardoalt1515/DSR-AI-sub000/internal/agent"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/config"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/model"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/parser"
)

// useConfig loads defaults from an empty directory and points the store and
// storage at temp paths.
func useConfig(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(origDir) })

	c, err := config.Load()
	require.NoError(t, err)
	c.Store.Driver = "sqlite"
	c.Store.DatabaseURL = filepath.Join(dir, "bulk.db")
	c.Storage.LocalRoot = filepath.Join(dir, "objects")

	prev := cfg
	cfg = c
	t.Cleanup(func() { cfg = prev })
}

func TestInitStore_UnsupportedDriver(t *testing.T) {
	useConfig(t)
	cfg.Store.Driver = "mysql"

	_, err := initStore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}

func TestInitStorage_UnsupportedDriver(t *testing.T) {
	useConfig(t)
	cfg.Storage.Driver = "gcs"

	_, err := initStorage(context.Background())
	assert.Error(t, err)

	cfg.Storage.Driver = "s3"
	cfg.Storage.S3Bucket = ""
	_, err = initStorage(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket")
}

func TestInitParser(t *testing.T) {
	useConfig(t)

	_, isolated := initParser().(*parser.Isolated)
	assert.True(t, isolated)

	cfg.Parser.Isolate = false
	p, ok := initParser().(parser.InProcess)
	require.True(t, ok)
	assert.Equal(t, 5000, p.Limits.MaxRows)
}

func TestInitAgent(t *testing.T) {
	useConfig(t)

	_, err := initAgent()
	require.Error(t, err, "anthropic key is required")

	cfg.AI.AnthropicKey = "sk-ant-test"
	a, err := initAgent()
	require.NoError(t, err)
	assert.IsType(t, &agent.Guarded{}, a)

	cfg.AI.Provider = "openai"
	_, err = initAgent()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openai key")

	cfg.AI.OpenAIKey = "sk-test"
	_, err = initAgent()
	require.NoError(t, err)

	cfg.AI.Provider = "mistral"
	_, err = initAgent()
	assert.Error(t, err)
}

func TestInitQuestionnaire_MissingFile(t *testing.T) {
	useConfig(t)
	cfg.Importer.QuestionnairePath = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := initQuestionnaire()
	assert.Error(t, err)
}

func TestInitEnv_SQLite(t *testing.T) {
	useConfig(t)
	ctx := context.Background()

	env, err := initEnv(ctx, false)
	require.NoError(t, err)
	defer env.Close()

	require.NotNil(t, env.Service)
	require.NotNil(t, env.Metrics)

	co := &model.Company{ID: "co-1", OrganizationID: "org-1", Name: "Acme Reciclaje"}
	require.NoError(t, env.Store.InsertCompany(ctx, co))

	in, err := importInput("org-1", "user-1", "co-1", "", writeFile(t, "inventario.pdf", "%PDF-1.4\n%%EOF"))
	require.NoError(t, err)
	run, err := env.Service.CreateRun(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusUploaded, run.Status)

	runs, err := env.Service.ListRuns(ctx, "org-1", model.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "inventario.pdf", runs[0].SourceFilename)
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestImportInput(t *testing.T) {
	path := writeFile(t, "plantas.docx", "PK")

	in, err := importInput("org-1", "user-1", "", "loc-1", path)
	require.NoError(t, err)
	assert.Equal(t, model.EntrypointLocation, in.EntrypointType)
	assert.Equal(t, "loc-1", in.EntrypointID)
	assert.Equal(t, "plantas.docx", in.Filename)
	assert.Equal(t, []byte("PK"), in.Data)

	_, err = importInput("org-1", "", "co-1", "loc-1", path)
	assert.Error(t, err)

	_, err = importInput("org-1", "", "", "", path)
	assert.Error(t, err)

	_, err = importInput("org-1", "", "co-1", "", filepath.Join(t.TempDir(), "missing.pdf"))
	assert.Error(t, err)
}
