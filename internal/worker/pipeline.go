package worker

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/pokerjest/animeleech/internal/muxer"
	"github.com/pokerjest/animeleech/internal/scanner"
	"github.com/pokerjest/animeleech/internal/uploader"
	log "github.com/sirupsen/logrus"
)

type fileResult struct {
	uploaded bool
	tracked  bool
	series   string
	episode  int
}

// processFile muxes (when a sidecar exists), uploads, records history and
// removes the file's paths. Failures stay local to this file.
func (o *Orchestrator) processFile(ctx context.Context, t *task, video string, index, total int) fileResult {
	var fr fileResult
	logger := t.logger.WithField("path", video)
	displayName := filepath.Base(video)

	finalPath := video
	sidecar := scanner.FindSidecar(o.fs, video)
	if sidecar != "" {
		out := muxer.OutputPath(video)
		t.guard.Track(out)
		o.progress(ctx, t.sink, fmt.Sprintf("🛠️ *Muxing...*\n`%s`", displayName), nil)

		err := o.muxer.Mux(ctx, video, sidecar, out)
		switch {
		case err == nil:
			finalPath = out
		case errors.Is(err, muxer.ErrDisabled):
		default:
			logger.Warnf("muxing failed, uploading original: %v", err)
		}
	}
	defer func() {
		paths := []string{finalPath}
		if finalPath != video {
			paths = append(paths, video)
		}
		paths = append(paths, sidecar)
		removePaths(o.fs, paths...)
	}()

	var size int64
	if info, err := o.fs.Stat(finalPath); err == nil {
		size = info.Size()
	}

	thumb, err := o.store.GetThumbnail(ctx, t.userID)
	if err != nil {
		logger.Debugf("load thumbnail: %v", err)
	}

	o.progress(ctx, t.sink, fmt.Sprintf("⬆️ *Uploading (%d/%d)*", index+1, total), nil)
	err = o.uploader.Upload(ctx, uploader.Request{
		Path:      finalPath,
		Caption:   Caption(filepath.Base(finalPath)),
		Thumbnail: thumb,
	})
	if err != nil {
		logger.Errorf("upload failed: %v", err)
		o.progress(ctx, t.sink, fmt.Sprintf("⚠️ Upload failed (%d/%d): `%s`", index+1, total, displayName), nil)
		return fr
	}
	fr.uploaded = true

	// history is keyed on the pre-mux name; "_muxed" would break parsing
	series, ep, ok, err := o.store.RecordUpload(ctx, t.userID, displayName, size)
	if err != nil {
		logger.Warnf("record history: %v", err)
	} else if ok {
		fr.tracked, fr.series, fr.episode = true, series, ep
	}
	if err := o.store.AddTraffic(ctx, t.userID, size, size); err != nil {
		logger.Warnf("add traffic: %v", err)
	}

	log.WithFields(log.Fields{"job_id": t.jobID, "file": displayName, "size": size}).Info("file uploaded")
	return fr
}
