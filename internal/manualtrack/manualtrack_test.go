package manualtrack_test

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"testing"

	"tractkit/internal/command"
	"tractkit/internal/deps"
	"tractkit/internal/logging"
	"tractkit/internal/manualtrack"
	"tractkit/internal/services"
	"tractkit/internal/testsupport"
)

func setupSubject(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "AIS_L", "01-1021")
	testsupport.Touch(t,
		filepath.Join(dir, "Extract_DTI_Shell", "01-1021__dwi_dti.nii.gz"),
		filepath.Join(dir, "Extract_DTI_Shell", "01-1021__bval_dti"),
		filepath.Join(dir, "Extract_DTI_Shell", "01-1021__bvec_dti"),
		filepath.Join(dir, "DTI_Metrics", "01-1021__rgb.nii.gz"),
	)
	return dir
}

func TestInitializeCreatesFolderAndLaunchesViewer(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	dir := setupSubject(t)
	rec := command.NewRecorder()
	tracker := manualtrack.New(cfg, rec, rec, logging.NewNop())

	tractDir, err := tracker.Initialize(context.Background(), dir, "01-1021", "AF_L")
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if tractDir != filepath.Join(dir, "Manual_Tractography", "AF_L") {
		t.Fatalf("tract dir = %s", tractDir)
	}
	testsupport.AssertExists(t, tractDir)

	launches := rec.Launches()
	if len(launches) != 1 || launches[0].Program != deps.MRView {
		t.Fatalf("unexpected launches %+v", launches)
	}
	want := []string{
		filepath.Join(dir, "Extract_DTI_Shell", "01-1021__dwi_dti.nii.gz"),
		"-overlay.load",
		filepath.Join(dir, "DTI_Metrics", "01-1021__rgb.nii.gz"),
	}
	if !slices.Equal(launches[0].Args, want) {
		t.Fatalf("mrview args = %v", launches[0].Args)
	}
	if len(rec.Calls()) != 0 {
		t.Fatal("initialize must not wait on any tool")
	}
}

func TestGenerateUsesEveryROI(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	dir := setupSubject(t)
	tractDir := manualtrack.TractDir(dir, "AF_L")
	testsupport.Touch(t,
		filepath.Join(tractDir, "AF_L_seed.mif"),
		filepath.Join(tractDir, "and_1.mif"),
		filepath.Join(tractDir, "and_2.mif"),
		filepath.Join(tractDir, "not_1.mif"),
	)
	rec := command.NewRecorder()
	tracker := manualtrack.New(cfg, rec, rec, logging.NewNop())

	out, err := tracker.Generate(context.Background(), dir, "01-1021", "AF_L", 2000)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if filepath.Base(out) != "01-1021_AF_L_2and_1not.tck" {
		t.Fatalf("output = %s", out)
	}
	testsupport.AssertExists(t, out)

	calls := rec.Calls()
	if len(calls) != 1 || calls[0].Program != deps.TckGen || calls[0].Dir != tractDir {
		t.Fatalf("unexpected calls %+v", calls)
	}
	shell := filepath.Join(dir, "Extract_DTI_Shell")
	want := []string{
		filepath.Join(shell, "01-1021__dwi_dti.nii.gz"), out,
		"-algorithm", "Tensor_Prob",
		"-fslgrad", filepath.Join(shell, "01-1021__bvec_dti"), filepath.Join(shell, "01-1021__bval_dti"),
		"-select", "2000",
		"-seeds", "1000000",
		"-seed_image", filepath.Join(tractDir, "AF_L_seed.mif"),
		"-force",
		"-include", filepath.Join(tractDir, "and_1.mif"),
		"-include", filepath.Join(tractDir, "and_2.mif"),
		"-exclude", filepath.Join(tractDir, "not_1.mif"),
	}
	if !slices.Equal(calls[0].Args, want) {
		t.Fatalf("tckgen args:\n%v\nwant:\n%v", calls[0].Args, want)
	}
}

func TestGenerateDefaultsSelectCount(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	dir := setupSubject(t)
	testsupport.Touch(t, filepath.Join(manualtrack.TractDir(dir, "UF_R"), "seed.mif"))
	rec := command.NewRecorder()
	tracker := manualtrack.New(cfg, rec, rec, logging.NewNop())

	out, err := tracker.Generate(context.Background(), dir, "01-1021", "UF_R", 0)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if filepath.Base(out) != "01-1021_UF_R_0and_0not.tck" {
		t.Fatalf("output = %s", out)
	}
	args := rec.Calls()[0].Args
	idx := slices.Index(args, "-select")
	if idx < 0 || args[idx+1] != "5000" {
		t.Fatalf("expected default select count, got %v", args)
	}
}

func TestGenerateErrors(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	dir := setupSubject(t)
	testsupport.Mkdirs(t, manualtrack.TractDir(dir, "AF_L"))
	tracker := manualtrack.New(cfg, command.NewRecorder(), nil, logging.NewNop())

	tests := []struct {
		name  string
		tag   string
		tract string
		count int
		want  error
	}{
		{name: "no seed", tag: "01-1021", tract: "AF_L", want: services.ErrNotFound},
		{name: "bad tag", tag: "1021", tract: "AF_L", want: services.ErrValidation},
		{name: "bad tract", tag: "01-1021", tract: "../AF_L", want: services.ErrValidation},
		{name: "negative count", tag: "01-1021", tract: "AF_L", count: -1, want: services.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tracker.Generate(context.Background(), dir, tt.tag, tt.tract, tt.count)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestInitializeMissingDWI(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	rec := command.NewRecorder()
	tracker := manualtrack.New(cfg, rec, rec, logging.NewNop())

	_, err := tracker.Initialize(context.Background(), t.TempDir(), "01-1021", "AF_L")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if len(rec.Launches()) != 0 {
		t.Fatal("viewer must not launch without inputs")
	}
}

func TestFindROIsKeepsSeedsOutOfRegions(t *testing.T) {
	dir := t.TempDir()
	testsupport.Touch(t,
		filepath.Join(dir, "seed_and_start.mif"),
		filepath.Join(dir, "and_a.mif"),
		filepath.Join(dir, "not_a.mif"),
		filepath.Join(dir, "notes.txt"),
	)
	rois, err := manualtrack.FindROIs(dir)
	if err != nil {
		t.Fatalf("FindROIs: %v", err)
	}
	if len(rois.Seeds) != 1 || len(rois.Include) != 1 || len(rois.Exclude) != 1 {
		t.Fatalf("unexpected rois %+v", rois)
	}
}
