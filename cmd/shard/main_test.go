package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweetpotato0/shard/config"
	shardErrors "github.com/sweetpotato0/shard/errors"
	"github.com/sweetpotato0/shard/event"
	"github.com/sweetpotato0/shard/gateway"
)

func offlineConfig() *config.Config {
	cfg := config.Default()
	cfg.Keys = config.KeysConfig{}
	cfg.Research.Encoding = ""
	return cfg
}

func TestModelsCommandJSON(t *testing.T) {
	cmd := newModelsCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--json"})
	require.NoError(t, cmd.Execute())

	var models []gateway.Model
	require.NoError(t, json.Unmarshal(out.Bytes(), &models))
	assert.Equal(t, gateway.Catalog, models)
}

func TestModelsCommandTable(t *testing.T) {
	cmd := newModelsCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(nil)
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "deepseek/deepseek-r1-0528:free")
}

func TestBuildWithoutKeys(t *testing.T) {
	a, err := build(context.Background(), offlineConfig())
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.engine)
	assert.NotNil(t, a.research)
	assert.Nil(t, a.recognizer)
	assert.Len(t, a.lookups.Kinds(), 4)
}

func TestBuildRejectsUnknownHelper(t *testing.T) {
	cfg := offlineConfig()
	cfg.Helper.Provider = "mystery"
	_, err := build(context.Background(), cfg)
	require.Error(t, err)
}

func TestBuildRejectsUnknownPrompt(t *testing.T) {
	cfg := offlineConfig()
	cfg.Prompts = map[string]string{"nonexistent": "x"}
	_, err := build(context.Background(), cfg)
	require.ErrorContains(t, err, "unknown prompt")
}

func TestReplCommands(t *testing.T) {
	a, err := build(context.Background(), offlineConfig())
	require.NoError(t, err)
	defer a.Close()

	var out bytes.Buffer
	r := &repl{app: a, out: &out, model: gateway.DefaultModel, search: true, done: make(chan event.Event, 4)}
	ctx := context.Background()

	quit, err := r.command(ctx, "/search off")
	require.NoError(t, err)
	assert.False(t, quit)
	assert.False(t, r.search)

	_, err = r.command(ctx, "/model gemini-2.0-flash")
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.0-flash", r.model)

	_, err = r.command(ctx, "/model nope")
	require.Error(t, err)
	assert.Equal(t, "gemini-2.0-flash", r.model)

	_, err = r.command(ctx, "/image")
	require.Error(t, err)

	_, err = r.command(ctx, "/history")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "0 stored")

	_, err = r.command(ctx, "/forget")
	require.Error(t, err)
	_, err = r.command(ctx, "/forget run:42")
	require.ErrorIs(t, err, shardErrors.ErrNotFound)

	_, err = r.command(ctx, "/bogus")
	require.Error(t, err)

	quit, err = r.command(ctx, "/quit")
	require.NoError(t, err)
	assert.True(t, quit)
}

func TestReplPrintsToolEvents(t *testing.T) {
	var out bytes.Buffer
	r := &repl{out: &out, done: make(chan event.Event, 1)}

	r.print(event.NewToolStarted(1, "weather", "Boise"))
	r.print(event.NewToolCompleted(1, "financial", "ZZZZQQ", true, "", nil, ""))
	r.print(event.NewChunk(1, "Hi", ""))
	r.print(event.NewEnd(1, "Hi", ""))

	got := out.String()
	assert.Contains(t, got, "[weather: Boise]")
	assert.Contains(t, got, "[financial: no results]")
	assert.True(t, strings.Contains(got, "Hi"))
	select {
	case ev := <-r.done:
		assert.Equal(t, event.KindGenerationEnd, ev.Kind)
	default:
		t.Fatal("terminal event not delivered")
	}
}

func TestClip(t *testing.T) {
	assert.Equal(t, "a b", clip("a\n  b", 10))
	assert.Equal(t, "abc...", clip("abcdef", 3))
}
