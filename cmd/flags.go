package cmd

import (
	"github.com/spf13/cobra"

	"mvsynth/core/pipeline"
	"mvsynth/core/planner"
	"mvsynth/model"
)

func addRenderFlags(c *cobra.Command, f *renderFlags) {
	fl := c.Flags()
	fl.StringVarP(&f.style, "style", "s", "", "visual style prompt, e.g. \"oil painting, warm light\"")
	fl.StringVarP(&f.narrative, "narrative", "n", "", "comma-separated scene variations")
	fl.IntVarP(&f.keyframes, "keyframes", "k", 0, "number of keyframes (default from profile)")
	fl.Int64Var(&f.seed, "seed", -1, "base seed; keyframe i uses seed+i")
	fl.StringVar(&f.preset, "preset", "", "image preset: pixart, sdxl_turbo")
	fl.StringVarP(&f.resolution, "resolution", "r", "", "output canvas WxH: 1920x1080, 1080x1920, 1080x1080, 3840x2160")
	fl.IntVar(&f.fps, "fps", 0, "frame rate: 24, 30, 60")
	fl.StringVarP(&f.transition, "transition", "t", "", "transition style: none, cut, crossfade, fade_black, zoom_morph, ken_burns")
	fl.StringVarP(&f.mode, "mode", "m", "", "segmentation mode: beat_sync, energy_sync, section_sync, uniform")
	fl.BoolVar(&f.hwAccel, "hw-accel", false, "use the hardware H.264 encoder")
	fl.StringVarP(&f.outputDir, "output", "o", "", "output directory (default OUTPUT_DIR)")
}

func applyTransition(req *pipeline.Request, name string) error {
	t, err := model.ParseTransition(name)
	if err != nil {
		return err
	}
	req.Planner.TransitionStyle = t
	req.Compositor.TransitionStyle = t
	return nil
}

func applyMode(req *pipeline.Request, name string) error {
	m, err := planner.ParseMode(name)
	if err != nil {
		return err
	}
	req.Planner.Mode = m
	return nil
}
