package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/surprisal/internal/align"
	"github.com/samcharles93/surprisal/internal/logger"
	"github.com/samcharles93/surprisal/internal/model"
	"github.com/samcharles93/surprisal/internal/onnx"
	"github.com/samcharles93/surprisal/internal/toy"
)

func TestResolveList(t *testing.T) {
	t.Run("list file wins", func(t *testing.T) {
		list := filepath.Join(t.TempDir(), "models.txt")
		if err := os.WriteFile(list, []byte("gpt2\nbert-base-uncased\n\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		got := resolveList(logger.Discard(), list, "ignored")
		if want := []string{"gpt2", "bert-base-uncased"}; !reflect.DeepEqual(got, want) {
			t.Fatalf("got %q want %q", got, want)
		}
	})

	t.Run("single values when no list", func(t *testing.T) {
		got := resolveList(logger.Discard(), "", "a", " ", "b")
		if want := []string{"a", "b"}; !reflect.DeepEqual(got, want) {
			t.Fatalf("got %q want %q", got, want)
		}
	})

	t.Run("unreadable list falls back", func(t *testing.T) {
		var logs bytes.Buffer
		missing := filepath.Join(t.TempDir(), "nope.txt")
		got := resolveList(logger.JSON(&logs, slog.LevelInfo), missing, "a")
		if want := []string{"a"}; !reflect.DeepEqual(got, want) {
			t.Fatalf("got %q want %q", got, want)
		}
		if !strings.Contains(logs.String(), "nope.txt") {
			t.Fatalf("expected a warning naming the list, got %q", logs.String())
		}
	})
}

func TestResolveOutputDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "out")
	got, err := resolveOutputDir(dir + "/")
	if err != nil {
		t.Fatalf("resolveOutputDir returned error: %v", err)
	}
	if got != filepath.Clean(dir) {
		t.Fatalf("got %q want %q", got, dir)
	}
	if st, err := os.Stat(got); err != nil || !st.IsDir() {
		t.Fatalf("expected output directory to exist: %v", err)
	}
	if _, err := resolveOutputDir("  "); err == nil {
		t.Fatalf("expected error for empty output directory")
	}
}

func TestNewProvider(t *testing.T) {
	p, err := newProvider("toy", "", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.(*toy.Provider); !ok {
		t.Fatalf("got %T want *toy.Provider", p)
	}

	dir := t.TempDir()
	p, err = newProvider("onnx", dir, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if op, ok := p.(*onnx.Provider); !ok || op.Dir != dir {
		t.Fatalf("got %#v", p)
	}

	if _, err := newProvider("onnx", "", "", nil); err == nil || !strings.Contains(err.Error(), envModelsDir) {
		t.Fatalf("expected models dir error, got %v", err)
	}
	if _, err := newProvider("hub", dir, "", nil); err == nil {
		t.Fatalf("expected unknown provider error")
	}
}

func TestReadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := "models_dir: /models\nprovider: toy\nprimary_decoder: causal\nfollowing_context: true\njobs: 4\nlog_format: json\n"
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := readConfig(path)
	if err != nil {
		t.Fatalf("readConfig: %v", err)
	}
	if cfg.ModelsDir != "/models" || cfg.Provider != "toy" || cfg.PrimaryDecoder != "causal" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.FollowingContext == nil || !*cfg.FollowingContext || cfg.Jobs == nil || *cfg.Jobs != 4 {
		t.Fatalf("unexpected pointer fields: %+v", cfg)
	}
	if cfg.UseCPU != nil {
		t.Fatalf("use_cpu should be unset")
	}
}

// withConfigHome points the config file lookup at a temp dir for the test.
func withConfigHome(t *testing.T, yml string) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", home)
	t.Setenv("HOME", home)
	if yml == "" {
		return
	}
	dir := filepath.Join(home, "surprisal")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
}

// testApp returns the CLI with exit handling that reports errors instead of
// exiting the test binary.
func testApp(t *testing.T) *cli.Command {
	t.Helper()
	prev := cli.OsExiter
	cli.OsExiter = func(code int) {}
	t.Cleanup(func() { cli.OsExiter = prev })
	app := newApp()
	app.ExitErrHandler = func(context.Context, *cli.Command, error) {}
	return app
}

func mustAlign(t *testing.T, lm *model.LoadedModel, stimulus string) align.Partition {
	t.Helper()
	part, err := align.Align(stimulus, lm.Tokenizer)
	if err != nil {
		t.Fatalf("align %q: %v", stimulus, err)
	}
	return part
}

func TestRunCommandWithToyProvider(t *testing.T) {
	withConfigHome(t, "primary_decoder: causal\n")

	tmp := t.TempDir()
	stim := filepath.Join(tmp, "items.txt")
	if err := os.WriteFile(stim, []byte("The dog *chased* the cat.\nbroken line\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	modelList := filepath.Join(tmp, "models.txt")
	if err := os.WriteFile(modelList, []byte("toy/a\ntoy/masked-b\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(tmp, "out")

	args := []string{"surprisal", "--log-format", "text", "--log-level", "error",
		"run", "--provider", "toy", "-i", stim, "-o", out, "--model-list", modelList, "-m", "ignored"}
	if err := testApp(t).Run(context.Background(), args); err != nil {
		t.Fatalf("run: %v", err)
	}

	for _, name := range []string{
		"items.surprisal.toy__a.causal.output",
		"items.surprisal.toy__masked-b.causal_mask.output",
	} {
		raw, err := os.ReadFile(filepath.Join(out, name))
		if err != nil {
			t.Fatalf("missing output %s: %v", name, err)
		}
		if lines := bytes.Count(raw, []byte("\n")); lines != 2 {
			t.Fatalf("%s: got %d lines, want header and one row", name, lines)
		}
	}
	if _, err := os.Stat(filepath.Join(out, "items.surprisal.ignored.causal.output")); !os.IsNotExist(err) {
		t.Fatalf("single --model should be ignored when a list is given")
	}
}

func TestRunCommandCPUAliasAndMissingList(t *testing.T) {
	withConfigHome(t, "")
	t.Cleanup(func() { useCPU = false })

	tmp := t.TempDir()
	stim := filepath.Join(tmp, "items.txt")
	if err := os.WriteFile(stim, []byte("The dog *chased* the cat.\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(tmp, "out")

	args := []string{"surprisal", "--log-level", "error", "run", "--provider", "toy", "-cpu",
		"--stimuli-list", filepath.Join(tmp, "absent.txt"), "-i", stim, "-o", out, "-m", "toy/a"}
	if err := testApp(t).Run(context.Background(), args); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !useCPU {
		t.Fatalf("-cpu did not set --use-cpu")
	}
	if got, _ := filepath.Glob(filepath.Join(out, "items.surprisal.toy__a.*.output")); len(got) != 1 {
		t.Fatalf("single --stimuli file was not used: %v", got)
	}
}

func TestRunCommandConfigErrors(t *testing.T) {
	withConfigHome(t, "")

	stim := filepath.Join(t.TempDir(), "items.txt")
	if err := os.WriteFile(stim, []byte("a *b* c\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(t.TempDir(), "out")

	cases := [][]string{
		{"surprisal", "run", "--provider", "toy", "-i", stim, "-m", "toy/a"},
		{"surprisal", "run", "--provider", "toy", "-i", stim, "-o", out},
		{"surprisal", "run", "--provider", "toy", "-i", stim, "-o", out, "-m", "toy/a", "-t", "entropy"},
		{"surprisal", "run", "--provider", "toy", "-i", stim, "-o", out, "-m", "toy/a", "-d", "causal_mask"},
	}
	for _, args := range cases {
		err := testApp(t).Run(context.Background(), args)
		if err == nil {
			t.Fatalf("%v: expected error", args)
		}
	}
}

func TestPrintAlignment(t *testing.T) {
	lm, err := model.Load(context.Background(), toy.NewProvider(), model.Ref{ID: "toy/a"}, model.Causal, model.DeviceCPU)
	if err != nil {
		t.Fatal(err)
	}
	defer lm.Close()

	var buf bytes.Buffer
	if err := printAlignment(&buf, lm.Tokenizer, mustAlign(t, lm, "A *b* c")); err != nil {
		t.Fatal(err)
	}
	got := buf.String()
	for _, want := range []string{"preceding  256:\"<s>\" 65:\"A\"", "target     32:\" \" 98:\"b\"", "following  32:\" \" 99:\"c\"", "words      \" b\""} {
		if !strings.Contains(got, want) {
			t.Fatalf("output %q missing %q", got, want)
		}
	}
}
