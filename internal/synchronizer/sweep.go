package synchronizer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/johndauphine/onboard-sync/internal/logging"
	"github.com/johndauphine/onboard-sync/internal/onboarding"
)

// SyncPendingData pushes every pending local record to the remote store.
// Records that fail stay pending for the next pass; there is no backoff at
// this layer.
func (s *Synchronizer) SyncPendingData(ctx context.Context) (res *SweepResult, err error) {
	ctx, span := s.startSpan(ctx, "SyncPendingData", "")
	defer func() { endSpan(span, err) }()

	pending, err := s.local.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing pending progress: %w", err)
	}

	res = &SweepResult{Attempted: len(pending)}
	if len(pending) == 0 {
		s.metrics.Sweep(0, 0, 0)
		return res, nil
	}
	logging.Debug("Syncing %d pending record(s)", len(pending))

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.workers)
	for i := range pending {
		rec := &pending[i]
		g.Go(func() error {
			var pushErr error
			if cerr := ctx.Err(); cerr != nil {
				pushErr = cerr
			} else {
				pushErr = s.push(ctx, rec)
			}

			mu.Lock()
			defer mu.Unlock()
			if pushErr != nil {
				res.Failed++
				res.Errors = append(res.Errors, fmt.Errorf("%s: %w", rec.UserID, pushErr))
				return nil
			}
			res.Synced++
			return nil
		})
	}
	_ = g.Wait()

	stillPending := res.Failed
	if left, lerr := s.local.ListPending(ctx); lerr == nil {
		stillPending = len(left)
	}
	s.metrics.Sweep(res.Synced, res.Failed, stillPending)

	if res.Failed > 0 {
		logging.Warn("Sync sweep: %d of %d record(s) still pending", res.Failed, res.Attempted)
		s.notifySweep(res)
	} else {
		logging.Info("Sync sweep: %d record(s) synced", res.Synced)
	}

	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

func (s *Synchronizer) notifySweep(res *SweepResult) {
	if s.notifier == nil {
		return
	}
	failures := make([]string, 0, len(res.Errors))
	for _, e := range res.Errors {
		// Context errors are ours, not the remote's
		if errors.Is(e, context.Canceled) {
			continue
		}
		failures = append(failures, e.Error())
	}
	if len(failures) == 0 {
		return
	}
	if err := s.notifier.SyncSweepFailed(res.Attempted, res.Failed, failures); err != nil {
		logging.Warn("Failed to send sweep notification: %v", err)
	}
}

// IsRemoteFailure reports whether err came from the remote store.
func IsRemoteFailure(err error) bool {
	var remoteErr *onboarding.RemoteError
	return errors.As(err, &remoteErr)
}
