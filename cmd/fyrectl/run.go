package main

import (
	"context"
	"errors"
	"fmt"
	fyre_go "fyre-go"
	"time"

	"github.com/rs/zerolog"
)

// runDemo sets up the scene, then animates it one calc_step per frame until
// cfg.Steps frames are done or ctx is cancelled.
func runDemo(ctx context.Context, cli *fyre_go.Client, cfg appConfig, sc *scene, log zerolog.Logger) error {
	if err := cli.Command("set_render_time", cfg.RenderTime); err != nil {
		return err
	}
	if err := cli.SetParams(sc.params); err != nil {
		return err
	}
	if cfg.GUIStyle != "" {
		if err := cli.Command("set_gui_style", cfg.GUIStyle); err != nil {
			return err
		}
	}

	t := 0.0
	for step := 0; cfg.Steps == 0 || step < cfg.Steps; step++ {
		params, err := sc.frame(t)
		if err != nil {
			return err
		}
		if err := cli.SetParams(params); err != nil {
			return err
		}
		if err := cli.Command("calc_step"); err != nil {
			return err
		}
		if err := cli.Flush(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				log.Info().Int("step", step).Msg("interrupted")
				return nil
			}
			return fmt.Errorf("step %d: %w", step, err)
		}
		log.Debug().Int("step", step).Float64("t", t).Msg("frame")

		t += cfg.StepSize
		if cfg.Interval > 0 {
			timer := time.NewTimer(cfg.Interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				log.Info().Int("step", step).Msg("interrupted")
				return nil
			case <-timer.C:
			}
		}
	}

	log.Info().Int("steps", cfg.Steps).Msg("animation finished")
	return nil
}
