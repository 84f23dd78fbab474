package writer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"gocv.io/x/gocv"

	"github.com/khaledhikmat/vs-batch/model"
	"github.com/khaledhikmat/vs-batch/service/config"
	"github.com/khaledhikmat/vs-batch/service/lgr"
	"github.com/khaledhikmat/vs-batch/service/storage"
)

type gocvService struct {
	outDir     string
	params     config.WriterParameters
	storageSvc storage.IService

	// output paths claimed during this run
	reserved sync.Map
}

func NewGoCV(outDir string, params config.WriterParameters, storageSvc storage.IService) IService {
	if storageSvc == nil {
		storageSvc = storage.NewNoop()
	}
	return &gocvService{
		outDir:     filepath.Clean(outDir),
		params:     params,
		storageSvc: storageSvc,
	}
}

func (svc *gocvService) Plan(item model.Item) (string, string) {
	return OutputPaths(svc.outDir, svc.params.Prefix, svc.params.VideoExt, item)
}

func (svc *gocvService) Begin(ctx context.Context, item model.Item, info model.StreamInfo) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mediaPath, recordPath := svc.Plan(item)
	if owner, loaded := svc.reserved.LoadOrStore(mediaPath, item.Path); loaded {
		return nil, model.NewWriteError("reserve_output", mediaPath, fmt.Errorf("output already claimed by %s", owner))
	}

	if err := os.MkdirAll(filepath.Dir(mediaPath), 0o755); err != nil {
		return nil, model.NewWriteError("create_dir", mediaPath, err)
	}

	token := uuid.NewString()
	sess := &session{
		svc:        svc,
		item:       item,
		info:       info,
		mediaPath:  mediaPath,
		recordPath: recordPath,
		mediaTemp:  tempPath(mediaPath, token),
		recordTemp: tempPath(recordPath, token),
	}

	if item.Kind == model.MediaVideo {
		fps := info.FPS
		if fps <= 0 {
			fps = svc.params.DefaultFPS
		}

		vw, err := gocv.VideoWriterFile(sess.mediaTemp, svc.params.VideoCodec, fps, info.Width, info.Height, true)
		if err != nil || !vw.IsOpened() {
			if err == nil {
				err = errors.New("encoder could not be opened")
				vw.Close()
			}
			_ = os.Remove(sess.mediaTemp)
			return nil, model.NewWriteError("open_writer", mediaPath, err)
		}
		sess.video = vw
	}

	return sess, nil
}

type session struct {
	svc  *gocvService
	item model.Item
	info model.StreamInfo

	mediaPath  string
	recordPath string
	mediaTemp  string
	recordTemp string

	video  *gocv.VideoWriter
	frames int
	done   bool
}

func (s *session) MediaPath() string {
	return s.mediaPath
}

// WriteFrame annotates the frame in place and appends it to the media.
func (s *session) WriteFrame(frame model.Frame, result model.InferenceResult) error {
	if s.done {
		return model.NewWriteError("write_frame", s.mediaPath, errors.New("session is closed"))
	}

	Annotate(&frame.Mat, result.Tracks)

	if s.video == nil {
		if s.frames > 0 {
			return model.NewWriteError("write_image", s.mediaPath, errors.New("an image holds a single frame"))
		}
		if ok := gocv.IMWrite(s.mediaTemp, frame.Mat); !ok {
			return model.NewWriteError("write_image", s.mediaPath, errors.New("encoder rejected the image"))
		}
		s.frames++
		return nil
	}

	img := frame.Mat
	if frame.Width != s.info.Width || frame.Height != s.info.Height {
		// The encoder silently drops frames of a different size
		resized := gocv.NewMat()
		defer resized.Close()
		gocv.Resize(frame.Mat, &resized, image.Pt(s.info.Width, s.info.Height), 0, 0, gocv.InterpolationLinear)
		img = resized
	}

	if err := s.video.Write(img); err != nil {
		return model.NewWriteError("write_frame", s.mediaPath, err)
	}
	s.frames++
	return nil
}

// Commit publishes media and record under their final names, then mirrors
// them through the storage service.
func (s *session) Commit(ctx context.Context, record model.ItemRecord) (model.OutputArtifact, error) {
	if s.done {
		return model.OutputArtifact{}, model.NewWriteError("commit", s.mediaPath, errors.New("session is closed"))
	}

	artifact, err := s.publish(record)
	if err != nil {
		s.Abort()
		return model.OutputArtifact{}, err
	}
	s.done = true

	s.mirror(ctx, &artifact)
	return artifact, nil
}

func (s *session) publish(record model.ItemRecord) (model.OutputArtifact, error) {
	if s.video != nil {
		if err := s.video.Close(); err != nil {
			s.video = nil
			return model.OutputArtifact{}, model.NewWriteError("close_writer", s.mediaPath, err)
		}
		s.video = nil
	}

	if s.frames == 0 {
		return model.OutputArtifact{}, model.NewWriteError("commit", s.mediaPath, errors.New("no frames were written"))
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return model.OutputArtifact{}, model.NewWriteError("encode_record", s.recordPath, err)
	}

	if err := os.WriteFile(s.recordTemp, append(data, '\n'), 0o644); err != nil {
		return model.OutputArtifact{}, model.NewWriteError("write_record", s.recordPath, err)
	}

	if err := os.Rename(s.mediaTemp, s.mediaPath); err != nil {
		return model.OutputArtifact{}, model.NewWriteError("rename_media", s.mediaPath, err)
	}

	if err := os.Rename(s.recordTemp, s.recordPath); err != nil {
		_ = os.Remove(s.mediaPath)
		return model.OutputArtifact{}, model.NewWriteError("rename_record", s.recordPath, err)
	}

	return model.OutputArtifact{
		MediaPath:  s.mediaPath,
		RecordPath: s.recordPath,
	}, nil
}

// mirror failures leave the local artifacts in place and are only logged.
func (s *session) mirror(ctx context.Context, artifact *model.OutputArtifact) {
	store := func(fileName string) string {
		key, err := filepath.Rel(s.svc.outDir, fileName)
		if err != nil {
			key = filepath.Base(fileName)
		}

		url, err := s.svc.storageSvc.StoreFile(ctx, fileName, key)
		if err != nil {
			lgr.Logger.Warn(
				"artifact mirror failed",
				slog.String("file", fileName),
				slog.Any("error", err),
			)
			return ""
		}
		return url
	}

	artifact.MediaURL = store(artifact.MediaPath)
	artifact.RecordURL = store(artifact.RecordPath)
}

func (s *session) Abort() {
	if s.done {
		return
	}
	s.done = true

	if s.video != nil {
		s.video.Close()
		s.video = nil
	}
	for _, f := range []string{s.mediaTemp, s.recordTemp} {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			lgr.Logger.Warn("remove temp artifact", slog.String("file", f), slog.Any("error", err))
		}
	}
}
