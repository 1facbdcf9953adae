package recobundles_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"tractkit/internal/command"
	"tractkit/internal/config"
	"tractkit/internal/deps"
	"tractkit/internal/logging"
	"tractkit/internal/pipeline"
	"tractkit/internal/recobundles"
	"tractkit/internal/services"
	"tractkit/internal/testsupport"
)

func setupInputs(t *testing.T, cfg *config.Config, subjects ...string) {
	t.Helper()
	for _, key := range subjects {
		tag := filepath.Base(key)
		root := filepath.Join(cfg.Paths.TractoflowRoot, key)
		testsupport.Touch(t,
			filepath.Join(root, "Register_T1", tag+"__t1_warped.nii.gz"),
			filepath.Join(root, "Tracking", tag+"__tracking.trk"),
		)
	}
	atlas := cfg.Paths.RecoxAtlasDir
	testsupport.Touch(t,
		cfg.MNITemplate(atlas),
		filepath.Join(atlas, cfg.Recobundles.ConfigFile),
		filepath.Join(atlas, "atlas", "subj_1", "AF_L.trk"),
		filepath.Join(atlas, "atlas", "subj_2", "AF_L.trk"),
	)
}

// bundleRecorder writes one bundle into the --out_dir of every recognition call.
func bundleRecorder() *command.Recorder {
	rec := command.NewRecorder()
	rec.Respond = func(inv command.Invocation) (command.Result, error) {
		if inv.Program != deps.RecognizeMultiBundles {
			return command.Result{}, nil
		}
		idx := slices.Index(inv.Args, "--out_dir")
		if idx < 0 {
			return command.Result{}, errors.New("missing --out_dir")
		}
		out := inv.Args[idx+1]
		if err := os.MkdirAll(out, 0o755); err != nil {
			return command.Result{}, err
		}
		return command.Result{}, os.WriteFile(filepath.Join(out, "AF_L.trk"), nil, 0o644)
	}
	return rec
}

func run(t *testing.T, cfg *config.Config, exec command.Executor) (pipeline.RunReport, error) {
	t.Helper()
	builder := recobundles.New(cfg, exec, logging.NewNop())
	runner := pipeline.NewRunner(pipeline.Options{Logger: logging.NewNop(), Workers: 2})
	return runner.Run(context.Background(), cfg.Paths.RecoxOutputDir, builder.Stages())
}

func TestRecobundlesRegistersAndRecognizes(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	setupInputs(t, cfg, "TDC/01-0001", "AIS_L/02-0002")
	rec := bundleRecorder()

	report, err := run(t, cfg, rec)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Outcome(recobundles.StageRegister) != pipeline.OutcomeCompleted ||
		report.Outcome(recobundles.StageRecognize) != pipeline.OutcomeCompleted {
		t.Fatalf("unexpected outcomes %+v", report.Stages)
	}

	out := cfg.Paths.RecoxOutputDir
	testsupport.AssertExists(t,
		filepath.Join(out, "TDC", "01-0001", "0_ants_registrations", "01-0001_to_mni_0GenericAffine.mat"),
		filepath.Join(out, "TDC", "01-0001", "0_ants_registrations", "01-0001_to_mni_0GenericAffine.txt"),
		filepath.Join(out, "AIS_L", "02-0002", "1_recox_tracts", "AF_L.trk"),
	)

	var recognize command.Invocation
	for _, call := range rec.Calls() {
		if call.Program == deps.RecognizeMultiBundles && slices.Contains(call.Args, filepath.Join(out, "TDC", "01-0001", "1_recox_tracts")) {
			recognize = call
		}
	}
	if recognize.Program == "" {
		t.Fatal("recognition was not invoked for 01-0001")
	}
	for _, want := range [][]string{
		{"--minimal_vote", "0.50"},
		{"--multi_parameters", "18"},
		{"--tractogram_clustering", "10", "12"},
		{"--processes", "8"},
		{"--seeds", "0"},
	} {
		idx := slices.Index(recognize.Args, want[0])
		if idx < 0 || !slices.Equal(recognize.Args[idx:idx+len(want)], want) {
			t.Errorf("recognition args %v missing %v", recognize.Args, want)
		}
	}
	templates := 0
	for _, arg := range recognize.Args {
		if filepath.Base(filepath.Dir(arg)) == "atlas" {
			templates++
		}
	}
	if templates != 2 {
		t.Fatalf("expected both atlas templates passed, got %d", templates)
	}

	rec.Reset()
	if _, err := run(t, cfg, rec); err != nil {
		t.Fatalf("rerun: %v", err)
	}
	if len(rec.Calls()) != 0 {
		t.Fatalf("rerun invoked %v", rec.Programs())
	}
}

func TestRecognizeSkipsSubjectsWithExistingBundles(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	setupInputs(t, cfg, "TDC/01-0001")
	testsupport.Touch(t, filepath.Join(cfg.Paths.RecoxOutputDir, "TDC", "01-0001", "1_recox_tracts", "UF_L.trk"))
	rec := bundleRecorder()

	report, err := run(t, cfg, rec)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if slices.Contains(rec.Programs(), deps.RecognizeMultiBundles) {
		t.Fatal("recognition should be skipped when bundles exist")
	}
	if report.Outcome(recobundles.StageRecognize) != pipeline.OutcomeSkipped {
		t.Fatalf("recognize outcome = %q", report.Outcome(recobundles.StageRecognize))
	}
}

func TestRegisterMissingT1(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	setupInputs(t, cfg, "TDC/01-0001")
	if err := os.Remove(filepath.Join(cfg.Paths.TractoflowRoot, "TDC", "01-0001", "Register_T1", "01-0001__t1_warped.nii.gz")); err != nil {
		t.Fatal(err)
	}

	_, err := run(t, cfg, bundleRecorder())
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRecognizeWithoutAtlasTemplates(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	setupInputs(t, cfg, "TDC/01-0001")
	if err := os.RemoveAll(filepath.Join(cfg.Paths.RecoxAtlasDir, "atlas")); err != nil {
		t.Fatal(err)
	}

	report, err := run(t, cfg, bundleRecorder())
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if report.Outcome(recobundles.StageRecognize) != pipeline.OutcomeFailed {
		t.Fatalf("recognize outcome = %q", report.Outcome(recobundles.StageRecognize))
	}
}
