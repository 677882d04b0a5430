package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/johndauphine/onboard-sync/internal/agent"
	"github.com/johndauphine/onboard-sync/internal/exitcodes"
	"github.com/johndauphine/onboard-sync/internal/logging"
	"github.com/johndauphine/onboard-sync/internal/onboarding"
	"github.com/johndauphine/onboard-sync/internal/recovery"
	"github.com/johndauphine/onboard-sync/internal/tui"
)

func commands() []*cli.Command {
	stepFlag := func(name, usage string) *cli.IntFlag {
		return &cli.IntFlag{Name: name, Usage: usage, Required: true}
	}
	dataFlag := &cli.StringFlag{
		Name:    "data",
		Aliases: []string{"d"},
		Usage:   "Step data as a JSON object, or @path to read it from a file",
	}

	return []*cli.Command{
		{
			Name:   "save-step",
			Usage:  "Merge a step's form data and advance to the next step",
			Action: withRuntime(saveStep),
			Flags: []cli.Flag{
				stepFlag("step", "Step whose data is saved"),
				stepFlag("next", "Step to advance to"),
				dataFlag,
			},
		},
		{
			Name:   "visit",
			Usage:  "Move to a step without saving data (back navigation)",
			Action: withRuntime(visitStep),
			Flags:  []cli.Flag{stepFlag("step", "Step to move to")},
		},
		{
			Name:   "seed",
			Usage:  "Store default data for a step that has none yet",
			Action: withRuntime(seedStep),
			Flags:  []cli.Flag{stepFlag("step", "Step to seed"), dataFlag},
		},
		{
			Name:   "show",
			Usage:  "Show the saved progress record",
			Action: withRuntime(showProgress),
		},
		{
			Name:   "resume",
			Usage:  "Show the screen a returning driver resumes at",
			Action: withRuntime(resumeTarget),
		},
		{
			Name:   "sync",
			Usage:  "Push every pending record to the remote store",
			Action: withRuntime(syncPending),
		},
		{
			Name:   "clear",
			Usage:  "Delete the driver's progress locally and remotely",
			Action: withRuntime(clearProgress),
		},
		{
			Name:   "upload",
			Usage:  "Upload a document or vehicle photo and attach it to the record",
			Action: withRuntime(uploadFile),
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "slot",
					Usage:    "File slot, e.g. documents.driverLicense or photos.front",
					Required: true,
				},
				&cli.StringFlag{
					Name:     "file",
					Aliases:  []string{"f"},
					Usage:    "Local file path or file:// URI",
					Required: true,
				},
			},
		},
		{
			Name:   "submit",
			Usage:  "Submit the completed application for review",
			Action: withRuntime(submitApplication),
		},
		{
			Name:   "status",
			Usage:  "Show the review status",
			Action: withRuntime(showStatus),
		},
		{
			Name:   "watch-status",
			Usage:  "Print review status changes until interrupted",
			Action: withRuntime(watchStatus),
		},
		{
			Name:   "agent",
			Usage:  "Watch connectivity, sync pending data and serve health/metrics",
			Action: withRuntime(runAgent),
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "listen",
					Usage: "HTTP listen address (default: metrics.listen)",
				},
				&cli.DurationFlag{
					Name:  "interval",
					Usage: "Connectivity probe interval (default: sync.probe_interval)",
				},
			},
		},
		{
			Name:   "dashboard",
			Usage:  "Interactive progress dashboard",
			Action: withRuntime(runDashboard),
			Flags: []cli.Flag{
				&cli.DurationFlag{
					Name:  "refresh",
					Value: 5 * time.Second,
					Usage: "Refresh interval",
				},
			},
		},
	}
}

func saveStep(ctx context.Context, c *cli.Context, rt *runtime) error {
	if err := rt.requireUser(); err != nil {
		return err
	}
	data, err := parseStepData(c.String("data"))
	if err != nil {
		return err
	}
	res, err := rt.sync.SaveStepDataAndAdvance(ctx, c.Int("step"), data, c.Int("next"))
	if err != nil {
		return err
	}
	return reportSave(c, res)
}

func visitStep(ctx context.Context, c *cli.Context, rt *runtime) error {
	if err := rt.requireUser(); err != nil {
		return err
	}
	res, err := rt.sync.UpdateCurrentStep(ctx, c.Int("step"))
	if err != nil {
		return err
	}
	return reportSave(c, res)
}

func seedStep(ctx context.Context, c *cli.Context, rt *runtime) error {
	if err := rt.requireUser(); err != nil {
		return err
	}
	data, err := parseStepData(c.String("data"))
	if err != nil {
		return err
	}
	seeded, err := rt.sync.SeedStepDefaults(ctx, c.Int("step"), data)
	if err != nil {
		return err
	}
	return emit(c, map[string]any{"step": c.Int("step"), "seeded": seeded}, func() {
		if seeded {
			fmt.Printf("Seeded defaults for step %d\n", c.Int("step"))
		} else {
			fmt.Printf("Step %d already has data, nothing seeded\n", c.Int("step"))
		}
	})
}

func showProgress(ctx context.Context, c *cli.Context, rt *runtime) error {
	if err := rt.requireUser(); err != nil {
		return err
	}
	rec, err := rt.sync.GetProgress(ctx, rt.userID)
	if err != nil {
		return err
	}
	return emit(c, rec, func() { printRecord(rec) })
}

func resumeTarget(ctx context.Context, c *cli.Context, rt *runtime) error {
	if err := rt.requireUser(); err != nil {
		return err
	}
	rec, err := rt.sync.GetProgress(ctx, rt.userID)
	if err != nil {
		return err
	}
	plan := recovery.Plan(rec)
	return emit(c, plan, func() {
		switch {
		case plan.ShouldNavigate:
			fmt.Printf("Resume at %s (step %d: %s)\n", plan.TargetScreen, plan.Step, onboarding.StepName(plan.Step))
		case plan.Step != 0:
			fmt.Printf("Saved step %d has no screen, start from the beginning\n", plan.Step)
		default:
			fmt.Println("No saved progress, start from the beginning")
		}
	})
}

func syncPending(ctx context.Context, c *cli.Context, rt *runtime) error {
	res, err := rt.sync.SyncPendingData(ctx)
	if err != nil {
		return err
	}
	errs := make([]string, 0, len(res.Errors))
	for _, e := range res.Errors {
		errs = append(errs, e.Error())
	}
	if err := emit(c, map[string]any{
		"attempted": res.Attempted,
		"synced":    res.Synced,
		"failed":    res.Failed,
		"errors":    errs,
	}, func() {
		fmt.Printf("Synced %d of %d pending record(s)\n", res.Synced, res.Attempted)
		for _, e := range errs {
			fmt.Printf("  %s\n", e)
		}
	}); err != nil {
		return err
	}
	if res.Failed > 0 {
		return &onboarding.RemoteError{Op: "sync", Err: errors.Join(res.Errors...)}
	}
	return nil
}

func clearProgress(ctx context.Context, c *cli.Context, rt *runtime) error {
	if err := rt.requireUser(); err != nil {
		return err
	}
	res, err := rt.sync.ClearProgress(ctx, rt.userID)
	if err != nil {
		return err
	}
	if res.RemoteErr != nil {
		logging.Warn("Local progress cleared, remote copy not deleted: %v", res.RemoteErr)
	}
	return emit(c, map[string]any{"cleared": true, "remote_error": errString(res.RemoteErr)}, func() {
		fmt.Printf("Cleared progress for %s\n", rt.userID)
	})
}

func submitApplication(ctx context.Context, c *cli.Context, rt *runtime) error {
	if err := rt.requireUser(); err != nil {
		return err
	}
	res, err := rt.sync.Submit(ctx)
	if err != nil {
		return err
	}
	if res.PublishErr != nil {
		logging.Warn("Submission stored but not announced to reviewers: %v", res.PublishErr)
	}
	if res.RemoteErr != nil {
		logging.Warn("Submission saved locally, progress sync pending: %v", res.RemoteErr)
	}
	return emit(c, res.Status, func() {
		fmt.Printf("Submitted for review, estimated review time %dh\n", res.Status.EstimatedReviewHours)
	})
}

func showStatus(ctx context.Context, c *cli.Context, rt *runtime) error {
	if err := rt.requireUser(); err != nil {
		return err
	}
	st, err := rt.sync.GetStatus(ctx, rt.userID)
	if err != nil {
		return err
	}
	return emit(c, st, func() { printStatus(st) })
}

func watchStatus(ctx context.Context, c *cli.Context, rt *runtime) error {
	if err := rt.requireUser(); err != nil {
		return err
	}
	unsubscribe, err := rt.sync.SubscribeStatus(ctx, rt.userID,
		func(st *onboarding.OnboardingStatus) {
			if err := emit(c, st, func() { printStatus(st) }); err != nil {
				logging.Warn("Printing status: %v", err)
			}
		},
		func(err error) {
			logging.Warn("Status subscription error: %v", err)
		},
	)
	if err != nil {
		return err
	}
	defer unsubscribe()

	<-ctx.Done()
	return nil
}

func runAgent(ctx context.Context, c *cli.Context, rt *runtime) error {
	interval := rt.cfg.Sync.ProbeInterval
	if c.IsSet("interval") {
		interval = c.Duration("interval")
	}
	listen := rt.cfg.Metrics.Listen
	if c.IsSet("listen") {
		listen = c.String("listen")
	}

	a := agent.New(rt.local, rt.remote, rt.sync,
		agent.WithInterval(interval),
		agent.WithMetrics(rt.metrics),
		agent.WithGatherer(rt.registry),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Run(gctx) })
	g.Go(func() error { return a.Serve(gctx, listen) })
	if err := g.Wait(); err != nil {
		return exitcodes.NewExitError(err, exitcodes.IOError)
	}
	return nil
}

func runDashboard(ctx context.Context, c *cli.Context, rt *runtime) error {
	if err := rt.requireUser(); err != nil {
		return err
	}
	return tui.Start(ctx, rt.sync, rt.userID, c.Duration("refresh"))
}
