package atlas

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"

	"tractkit/internal/deps"
	"tractkit/internal/fileutil"
	"tractkit/internal/logging"
	"tractkit/internal/pipeline"
	"tractkit/internal/services"
	"tractkit/internal/subject"
)

func (b *Builder) referenceStage() pipeline.Stage {
	return &pipeline.Step{
		StageName: StageReference,
		Find:      b.tagItems,
		Produces: func(dir string, item subject.WorkItem) []string {
			return []string{referencePath(dir, item.Tag)}
		},
		Run: func(ctx context.Context, dir string, item subject.WorkItem) error {
			source := filepath.Join(b.cfg.Paths.TractoflowRoot, item.Group, item.Tag, "Register_T1", item.Tag+"__t1_warped.nii.gz")
			if err := requireFile(StageReference, "source T1", source); err != nil {
				return err
			}
			out := referencePath(dir, item.Tag)
			return b.run(ctx, dir, deps.MRConvert, []string{source, out, "-force"}, out)
		},
	}
}

func (b *Builder) convertStage() pipeline.Stage {
	return &pipeline.Step{
		StageName: StageConvert,
		Needs:     []string{StageReference},
		Find:      files("", "*.tck"),
		Produces: func(dir string, item subject.WorkItem) []string {
			return []string{withSuffix(dir, item.Key, "")}
		},
		Run: func(ctx context.Context, dir string, item subject.WorkItem) error {
			ref, err := b.reference(StageConvert, dir, item)
			if err != nil {
				return err
			}
			out := withSuffix(dir, item.Key, "")
			return b.run(ctx, dir, deps.ConvertTractogram, []string{item.Path, out, "--reference", ref, "-f"}, out)
		},
	}
}

func (b *Builder) downsampleStage() pipeline.Stage {
	output := func(dir string, item subject.WorkItem) string {
		return withSuffix(filepath.Join(dir, DownsampleDir), item.Key, "_downsample")
	}
	return &pipeline.Step{
		StageName: StageDownsample,
		Needs:     []string{StageConvert},
		Find:      files("", "*.trk"),
		Produces: func(dir string, item subject.WorkItem) []string {
			return []string{output(dir, item)}
		},
		Run: func(ctx context.Context, dir string, item subject.WorkItem) error {
			ref, err := b.reference(StageDownsample, dir, item)
			if err != nil {
				return err
			}
			if err := fileutil.EnsureDirs(filepath.Join(dir, ValidatedDir), filepath.Join(dir, DownsampleDir)); err != nil {
				return err
			}
			valid := withSuffix(filepath.Join(dir, ValidatedDir), item.Key, "_valid")
			if err := b.run(ctx, dir, deps.RemoveInvalid, []string{"--reference", ref, item.Path, valid, "-f"}, valid); err != nil {
				return err
			}
			out := output(dir, item)
			return b.run(ctx, dir, deps.RemoveSimilar, []string{valid, "2", out, "-f"}, out)
		},
	}
}

func (b *Builder) flipRegisterStage() pipeline.Stage {
	outputs := func(dir, tag string) []string {
		mat := flipAffinePath(dir, tag)
		return []string{flippedReferencePath(dir, tag), mat, affineText(mat)}
	}
	return &pipeline.Step{
		StageName: StageFlipRegister,
		Needs:     []string{StageReference},
		Find:      b.tagItems,
		Produces: func(dir string, item subject.WorkItem) []string {
			return outputs(dir, item.Tag)
		},
		Run: func(ctx context.Context, dir string, item subject.WorkItem) error {
			ref := referencePath(dir, item.Tag)
			if err := b.requireOutput(StageFlipRegister, "T1 reference", ref); err != nil {
				return err
			}
			if err := fileutil.EnsureDirs(filepath.Join(dir, FlipDir)); err != nil {
				return err
			}
			out := outputs(dir, item.Tag)
			flipped, mat, txt := out[0], out[1], out[2]
			if err := b.run(ctx, dir, deps.FlipVolume, []string{ref, flipped, "x", "-f"}, flipped); err != nil {
				return err
			}
			prefix := filepath.Join(dir, FlipDir, item.Tag+flipOutputPrefix)
			if err := b.run(ctx, dir, deps.ANTsRegistrationQuick,
				[]string{"-d", "3", "-f", ref, "-m", flipped, "-t", "r", "-o", prefix, "-n", "4"}, mat); err != nil {
				return err
			}
			return b.run(ctx, dir, deps.ConvertTransformFile, []string{"3", mat, txt, "--hm", "--ras"}, txt)
		},
	}
}

// flipFuseStage flips every downsampled tract into the subject's own space
// and then fuses each tract with its flipped contralateral partner. All
// flips must exist before any fusion starts, so the stage runs as one batch.
func (b *Builder) flipFuseStage() pipeline.Stage {
	fused := func(dir string, item subject.WorkItem) string {
		return withSuffix(filepath.Join(dir, FuseDir), item.Key, "_fuse")
	}
	step := &pipeline.BatchStep{
		Step: pipeline.Step{
			StageName: StageFlipFuse,
			Needs:     []string{StageDownsample, StageFlipRegister},
			Find:      files(DownsampleDir, "*.trk"),
			Produces: func(dir string, item subject.WorkItem) []string {
				return []string{fused(dir, item)}
			},
		},
	}
	step.RunBatch = func(ctx context.Context, dir string, items []subject.WorkItem) error {
		if err := fileutil.EnsureDirs(filepath.Join(dir, FlipDir), filepath.Join(dir, FuseDir)); err != nil {
			return err
		}
		all, err := subject.Files(filepath.Join(dir, DownsampleDir), "*.trk")
		if err != nil {
			return err
		}
		var unflipped []subject.WorkItem
		for _, item := range all {
			if !pipeline.FilesExist([]string{flippedTract(dir, item.Key)}) {
				unflipped = append(unflipped, item)
			}
		}
		if err := b.forEach(ctx, unflipped, func(ctx context.Context, item subject.WorkItem) error {
			return b.flipTract(ctx, dir, item)
		}); err != nil {
			return err
		}
		return b.forEach(ctx, items, func(ctx context.Context, item subject.WorkItem) error {
			return b.fuseTract(ctx, dir, item, fused(dir, item))
		})
	}
	return step
}

func flippedTract(dir, key string) string {
	return withSuffix(filepath.Join(dir, FlipDir), key, "_flip")
}

func (b *Builder) flipTract(ctx context.Context, dir string, item subject.WorkItem) error {
	ref, err := b.reference(StageFlipFuse, dir, item)
	if err != nil {
		return err
	}
	affine := flipAffinePath(dir, item.Tag)
	if err := b.requireOutput(StageFlipFuse, "flip transform", affine); err != nil {
		return err
	}
	tmp := withSuffix(filepath.Join(dir, FlipDir), item.Key, "_flip_tmp")
	defer removeTemp(b.logger, tmp)
	if err := b.run(ctx, dir, deps.FlipStreamlines, []string{item.Path, tmp, "x", "-f"}, tmp); err != nil {
		return err
	}
	out := flippedTract(dir, item.Key)
	return b.run(ctx, dir, deps.ApplyTransformTracto,
		[]string{tmp, ref, affine, out, "--inverse", "--remove_invalid", "-f"}, out)
}

func (b *Builder) fuseTract(ctx context.Context, dir string, item subject.WorkItem, out string) error {
	base := subject.TrimExt(item.Key)
	partner, ok := Contralateral(base)
	if !ok {
		logging.WithContext(ctx, b.logger).Debug("tract has no hemisphere token; fusing with its own flip",
			logging.String("tract", base),
		)
	}
	partnerFlip := flippedTract(dir, partner)
	if err := b.requireOutput(StageFlipFuse, "contralateral flipped tract", partnerFlip); err != nil {
		return err
	}
	tmp := withSuffix(filepath.Join(dir, FuseDir), item.Key, "_concat_tmp")
	defer removeTemp(b.logger, tmp)
	if err := b.run(ctx, dir, deps.StreamlinesMath, []string{"concatenate", item.Path, partnerFlip, tmp, "-f"}, tmp); err != nil {
		return err
	}
	return b.run(ctx, dir, deps.RemoveSimilar,
		[]string{tmp, "1", out, "--avg", "--processes", "1", "--min_cluster_size", "2", "-f"}, out)
}

func (b *Builder) clustersStage() pipeline.Stage {
	folder := func(dir string, item subject.WorkItem) string {
		return filepath.Join(dir, ManualCleanDir, subject.TrimExt(item.Key))
	}
	return &pipeline.Step{
		StageName: StageClusters,
		Needs:     []string{StageFlipFuse},
		Find:      files(FuseDir, "*.trk"),
		Produces: func(dir string, item subject.WorkItem) []string {
			return []string{folder(dir, item)}
		},
		Run: func(ctx context.Context, dir string, item subject.WorkItem) error {
			if err := fileutil.EnsureDirs(filepath.Join(dir, ManualCleanDir)); err != nil {
				return err
			}
			out := folder(dir, item) + string(filepath.Separator)
			return b.run(ctx, dir, deps.ComputeQBX, []string{item.Path, "4", out}, out)
		},
	}
}

// manualReviewStage blocks on a human choosing clusters in a viewer, so it
// asks first and then reviews one bundle at a time.
func (b *Builder) manualReviewStage() pipeline.Stage {
	cleaned := func(dir string, item subject.WorkItem) string {
		return filepath.Join(dir, ManualCleanDir, item.Key+".trk")
	}
	step := &pipeline.BatchStep{
		Step: pipeline.Step{
			StageName: StageManualReview,
			Needs:     []string{StageClusters},
			Find: func(_ context.Context, dir string) ([]subject.WorkItem, error) {
				return subdirs(filepath.Join(dir, ManualCleanDir))
			},
			Produces: func(dir string, item subject.WorkItem) []string {
				return []string{cleaned(dir, item)}
			},
		},
	}
	step.RunBatch = func(ctx context.Context, dir string, items []subject.WorkItem) error {
		if b.confirm == nil {
			return services.Wrap(services.ErrConfiguration, StageManualReview, "confirm", "no console available for manual review", nil)
		}
		ready, err := b.confirm.Confirm(fmt.Sprintf("Are you ready to begin manual cluster checks for %d bundle(s)?", len(items)))
		if err != nil {
			return services.Wrap(services.ErrUserAborted, StageManualReview, "confirm", "no answer", err)
		}
		if !ready {
			return services.Wrap(services.ErrUserAborted, StageManualReview, "confirm",
				"not ready for manual cluster checks; rerun when ready", nil)
		}
		for _, item := range items {
			if err := b.reviewClusters(services.WithSubject(ctx, item.Key), dir, item, cleaned(dir, item)); err != nil {
				return fmt.Errorf("%s: %w", item.Key, err)
			}
		}
		return nil
	}
	return step
}

func (b *Builder) reviewClusters(ctx context.Context, dir string, item subject.WorkItem, out string) error {
	clusters, err := filepath.Glob(filepath.Join(item.Path, "*.trk"))
	if err != nil {
		return fmt.Errorf("glob clusters: %w", err)
	}
	if len(clusters) == 0 && !b.cfg.Pipeline.DryRun {
		return services.Wrap(services.ErrNotFound, StageManualReview, "clusters", "no cluster files in "+item.Path, nil)
	}
	slices.Sort(clusters)
	rejected := filepath.Join(dir, ManualCleanDir, item.Key+"_rejected.trk")
	defer removeTemp(b.logger, rejected)
	args := append(clusters, out, rejected, "--min_cluster_size", "5")
	return b.run(ctx, dir, deps.CleanQBXClusters, args, out)
}

func (b *Builder) smoothStage() pipeline.Stage {
	output := func(dir string, item subject.WorkItem) string {
		return withSuffix(filepath.Join(dir, SmoothCleanDir), item.Key, "_smooth_clean")
	}
	return &pipeline.Step{
		StageName: StageSmooth,
		Needs:     []string{StageManualReview},
		Find:      files(ManualCleanDir, "*.trk"),
		Produces: func(dir string, item subject.WorkItem) []string {
			return []string{output(dir, item)}
		},
		Run: func(ctx context.Context, dir string, item subject.WorkItem) error {
			if err := fileutil.EnsureDirs(filepath.Join(dir, SmoothCleanDir)); err != nil {
				return err
			}
			tmp := withSuffix(filepath.Join(dir, SmoothCleanDir), item.Key, "_smooth_tmp")
			defer removeTemp(b.logger, tmp)
			if err := b.run(ctx, dir, deps.SmoothStreamlines, []string{item.Path, tmp, "--gaussian", "10", "-e", "0.05", "-f"}, tmp); err != nil {
				return err
			}
			out := output(dir, item)
			return b.run(ctx, dir, deps.OutlierRejection, []string{tmp, out, "--alpha", "0.5", "-f"}, out)
		},
	}
}

// coregisterStage registers each exemplar T1 to the MNI template once and
// then moves every smoothed tract of that subject into MNI space.
func (b *Builder) coregisterStage() pipeline.Stage {
	output := func(dir string, item subject.WorkItem) string {
		return withSuffix(filepath.Join(dir, CoregisteredDir), item.Key, "_coregistered")
	}
	step := &pipeline.BatchStep{
		Step: pipeline.Step{
			StageName: StageCoregister,
			Needs:     []string{StageSmooth},
			Find:      files(SmoothCleanDir, "*.trk"),
			Produces: func(dir string, item subject.WorkItem) []string {
				return []string{output(dir, item)}
			},
		},
	}
	step.RunBatch = func(ctx context.Context, dir string, items []subject.WorkItem) error {
		mni := b.cfg.MNITemplate(dir)
		if err := requireFile(StageCoregister, "MNI template", mni); err != nil {
			return err
		}
		if err := fileutil.EnsureDirs(filepath.Join(dir, CoregisteredDir)); err != nil {
			return err
		}

		var pending []subject.WorkItem
		seen := make(map[string]struct{})
		for _, item := range items {
			if _, ok := seen[item.Tag]; ok || item.Tag == "" {
				continue
			}
			seen[item.Tag] = struct{}{}
			if !pipeline.FilesExist([]string{mniAffinePath(dir, item.Tag)}) {
				pending = append(pending, subject.WorkItem{Key: item.Tag, Tag: item.Tag, Path: dir})
			}
		}
		if err := b.forEach(ctx, pending, func(ctx context.Context, tag subject.WorkItem) error {
			ref := referencePath(dir, tag.Tag)
			if err := b.requireOutput(StageCoregister, "T1 reference", ref); err != nil {
				return err
			}
			prefix := filepath.Join(dir, CoregisteredDir, tag.Tag+mniOutputPrefix)
			return b.run(ctx, dir, deps.ANTsRegistrationQuick,
				[]string{"-d", "3", "-f", mni, "-m", ref, "-t", "r", "-o", prefix, "-n", "4"}, mniAffinePath(dir, tag.Tag))
		}); err != nil {
			return err
		}

		return b.forEach(ctx, items, func(ctx context.Context, item subject.WorkItem) error {
			if item.Tag == "" {
				return services.Wrap(services.ErrValidation, StageCoregister, "tract", "no subject tag in "+item.Key, nil)
			}
			out := output(dir, item)
			return b.run(ctx, dir, deps.ApplyTransformTracto,
				[]string{item.Path, mni, mniAffinePath(dir, item.Tag), out, "--remove_invalid", "--inverse", "-f"}, out)
		})
	}
	return step
}

// finalizeStage copies each subject's coregistered tracts into
// final_renamed/subj_<n>/<tract>.trk, numbering subjects by sorted tag.
func (b *Builder) finalizeStage() pipeline.Stage {
	return &pipeline.Step{
		StageName: StageFinalize,
		Needs:     []string{StageCoregister},
		Find: func(ctx context.Context, dir string) ([]subject.WorkItem, error) {
			items, err := b.tagItems(ctx, dir)
			if err != nil {
				return nil, err
			}
			for i := range items {
				items[i].Path = filepath.Join(dir, FinalRenamedDir, fmt.Sprintf("subj_%d", i+1))
			}
			return items, nil
		},
		Produces: func(dir string, item subject.WorkItem) []string {
			var outputs []string
			for _, src := range coregisteredTracts(dir, item.Tag) {
				outputs = append(outputs, filepath.Join(item.Path, TractName(src, item.Tag)+".trk"))
			}
			return outputs
		},
		Run: func(ctx context.Context, dir string, item subject.WorkItem) error {
			sources := coregisteredTracts(dir, item.Tag)
			if len(sources) == 0 {
				if b.cfg.Pipeline.DryRun {
					return nil
				}
				return services.Wrap(services.ErrNotFound, StageFinalize, "coregistered tracts", "none for "+item.Tag, nil)
			}
			logger := logging.WithContext(ctx, b.logger)
			for _, src := range sources {
				dst := filepath.Join(item.Path, TractName(src, item.Tag)+".trk")
				if b.cfg.Pipeline.DryRun {
					logger.Info("would copy atlas tract", logging.String("source", src), logging.String("target", dst))
					continue
				}
				if err := fileutil.CopyFileVerified(src, dst); err != nil {
					return services.Wrap(services.ErrTransient, StageFinalize, "copy", dst, err)
				}
				logger.Debug("atlas tract copied", logging.String("source", src), logging.String("target", dst))
			}
			return nil
		},
	}
}

func coregisteredTracts(dir, tag string) []string {
	matches, _ := filepath.Glob(filepath.Join(dir, CoregisteredDir, "*"+tag+"*.trk"))
	slices.Sort(matches)
	return matches
}

// reference returns the T1 reference for the subject an item belongs to.
func (b *Builder) reference(stage, dir string, item subject.WorkItem) (string, error) {
	if item.Tag == "" {
		return "", services.Wrap(services.ErrValidation, stage, "tract", "no subject tag in "+item.Key, nil)
	}
	ref := referencePath(dir, item.Tag)
	if err := b.requireOutput(stage, "T1 reference", ref); err != nil {
		return "", err
	}
	return ref, nil
}

// requireOutput checks for a file an earlier stage produces. Dry runs produce
// nothing, so the check is skipped there.
func (b *Builder) requireOutput(stage, what, path string) error {
	if b.cfg.Pipeline.DryRun {
		return nil
	}
	return requireFile(stage, what, path)
}

func affineText(mat string) string {
	return mat[:len(mat)-len(filepath.Ext(mat))] + ".txt"
}
