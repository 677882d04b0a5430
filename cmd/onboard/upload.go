package main

import (
	"context"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/term"

	"github.com/johndauphine/onboard-sync/internal/checkpoint"
	"github.com/johndauphine/onboard-sync/internal/logging"
	"github.com/johndauphine/onboard-sync/internal/onboarding"
	"github.com/johndauphine/onboard-sync/internal/progress"
	"github.com/johndauphine/onboard-sync/internal/upload"
)

// uploadFile runs one upload to completion and attaches the result to the
// driver's record. The slot bookkeeping in the local store follows every
// state change so an interrupted upload is visible on the dashboard.
func uploadFile(ctx context.Context, c *cli.Context, rt *runtime) error {
	if err := rt.requireUser(); err != nil {
		return err
	}
	key, err := onboarding.ParseFileKey(c.String("slot"))
	if err != nil {
		return err
	}
	path, err := upload.LocalPath(c.String("file"))
	if err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	mgr, err := rt.uploadManager()
	if err != nil {
		return err
	}
	defer mgr.Wait()

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	dest := upload.ObjectPath(rt.userID, key, time.Now())

	// Bookkeeping outlives a cancelled upload
	bookCtx := context.WithoutCancel(ctx)
	slot := checkpoint.FileSlot{
		Key:        key,
		LocalURI:   path,
		RemotePath: dest,
		Status:     checkpoint.SlotUploading,
	}
	if err := rt.sync.TrackUpload(bookCtx, slot); err != nil {
		return err
	}

	task, err := mgr.Upload(ctx, upload.Request{
		SourceURI:      path,
		DestinationKey: dest,
		ContentType:    contentType,
	})
	if err != nil {
		return err
	}

	last := progress.Follow(task.Events(), progressHandlers(c, key.String())...)
	url, err := task.Wait(bookCtx)
	if err != nil {
		slot.Status = checkpoint.SlotFailed
		slot.Progress = last.Percent
		if terr := rt.sync.TrackUpload(bookCtx, slot); terr != nil {
			logging.Warn("Recording failed upload: %v", terr)
		}
		if nerr := rt.notifier.UploadFailed(task.ID(), dest, last.Attempt, err); nerr != nil {
			logging.Warn("Failed to send upload notification: %v", nerr)
		}
		return err
	}

	slot.Status = checkpoint.SlotCompleted
	slot.Progress = 100
	slot.UploadURL = url
	if err := rt.sync.TrackUpload(bookCtx, slot); err != nil {
		return err
	}

	res, err := rt.sync.AttachUpload(bookCtx, key, onboarding.FileRef{
		ID:        task.ID(),
		Name:      filepath.Base(path),
		Type:      contentType,
		Size:      info.Size(),
		URI:       path,
		UploadURL: url,
	})
	if err != nil {
		return err
	}
	return reportSave(c, res)
}

// progressHandlers picks how upload progress is shown: a bar on an
// interactive terminal, JSON lines otherwise.
func progressHandlers(c *cli.Context, label string) []progress.Handler {
	if c.Bool("output-json") || !term.IsTerminal(int(os.Stderr.Fd())) {
		return []progress.Handler{progress.NewJSONReporter(os.Stderr, label, 500*time.Millisecond)}
	}
	return []progress.Handler{progress.New(label)}
}
