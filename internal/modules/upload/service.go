package upload

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"nftpack/internal/modules/progress"
	"nftpack/internal/pkg/fsutil"
	"nftpack/internal/session"
	"nftpack/internal/storage"
)

// maxFolderWorkers bounds how many pre-existing folders are processed at
// once on the collaborator path, capping peak disk and network usage.
const maxFolderWorkers = 10

var categories = []string{"images", "metadata"}

// Service runs the packaging pipeline. Both asset sources feed the same
// processFolder: the chunked path hands it a folder produced by merging a
// session's chunks, the collaborator path hands it folders that already
// exist under the assets dir.
type Service struct {
	registry  *session.Registry
	packer    Packer
	uploader  Uploader
	rewriter  Rewriter
	events    Broadcaster
	allocator *fsutil.Allocator
	assetsDir string

	// Advisory only: echoes the most recent metadata rootCID.
	lastRootCID atomic.Value
}

func NewService(
	registry *session.Registry,
	packer Packer,
	uploader Uploader,
	rewriter Rewriter,
	events Broadcaster,
	allocator *fsutil.Allocator,
	assetsDir string,
) *Service {
	s := &Service{
		registry:  registry,
		packer:    packer,
		uploader:  uploader,
		rewriter:  rewriter,
		events:    events,
		allocator: allocator,
		assetsDir: assetsDir,
	}
	s.lastRootCID.Store("")
	return s
}

// AllocateFolder reserves a fresh numeric asset folder with both category
// subfolders in place. Used by the direct (non-chunked) upload path.
func (s *Service) AllocateFolder() (int, string, error) {
	num := s.allocator.Next()
	dir := filepath.Join(s.assetsDir, strconv.Itoa(num))
	for _, cat := range categories {
		if err := fsutil.EnsureDir(filepath.Join(dir, cat)); err != nil {
			return 0, "", err
		}
	}
	return num, dir, nil
}

// CompleteSession merges a finished session's chunks into a new asset
// folder and runs the pipeline on it. It must be called at most once per
// session; the registry's exactly-once completion flag guarantees that.
func (s *Service) CompleteSession(ctx context.Context, sessionID string) (*PipelineResult, error) {
	sess, err := s.registry.Get(sessionID)
	if err != nil {
		return nil, err
	}

	s.events.Publish(progress.Event{
		SessionID: sessionID,
		Stage:     progress.StageMerging,
		Message:   fmt.Sprintf("merging %d chunks", sess.TotalChunks),
	})

	num, dir, err := s.AllocateFolder()
	if err != nil {
		s.publishError(sessionID, err)
		return nil, fmt.Errorf("%w: allocating folder: %v", ErrMerge, err)
	}

	if err := s.mergeChunks(sess, dir); err != nil {
		// Temp state is kept on purpose so the failure can be inspected;
		// the session is stuck and the client restarts from scratch.
		s.publishError(sessionID, err)
		return nil, err
	}

	if err := os.RemoveAll(sess.TempRoot); err != nil {
		log.Printf("session %s: removing temp tree: %v", sessionID, err)
	}
	s.registry.Remove(sessionID)

	return s.processFolder(ctx, sessionID, num)
}

// mergeChunks copies every chunk's category files into the asset folder.
// Chunks without a given category subfolder contribute nothing.
func (s *Service) mergeChunks(sess *session.Session, dir string) error {
	for i := 0; i < sess.TotalChunks; i++ {
		for _, cat := range categories {
			src := filepath.Join(sess.TempRoot, strconv.Itoa(i), cat)
			if err := fsutil.CopyDir(src, filepath.Join(dir, cat)); err != nil {
				return fmt.Errorf("%w: chunk %d %s: %v", ErrMerge, i, cat, err)
			}
		}
	}
	return nil
}

// ProcessFolder runs the pipeline on asset folder num, publishing events
// under sessionID.
func (s *Service) ProcessFolder(ctx context.Context, sessionID string, num int) (*PipelineResult, error) {
	return s.processFolder(ctx, sessionID, num)
}

// ProcessExisting runs the pipeline over every numeric folder already
// present under the assets dir, at most maxFolderWorkers at a time.
// Folders without an images subfolder are skipped, matching the
// collaborator contract.
func (s *Service) ProcessExisting(ctx context.Context) error {
	nums, err := fsutil.NumericDirs(s.assetsDir)
	if err != nil {
		return fmt.Errorf("scanning %s: %w", s.assetsDir, err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxFolderWorkers)
	for _, num := range nums {
		g.Go(func() error {
			imagesDir := filepath.Join(s.assetsDir, strconv.Itoa(num), "images")
			if _, err := os.Stat(imagesDir); os.IsNotExist(err) {
				log.Printf("folder %d: no images subfolder, skipping", num)
				return nil
			}
			_, err := s.processFolder(ctx, strconv.Itoa(num), num)
			return err
		})
	}
	return g.Wait()
}

// processFolder is the one pipeline. Stages are strictly sequential for a
// folder: pack images, upload images, rewrite metadata with the images
// rootCID, pack metadata, upload metadata, remove the folder.
func (s *Service) processFolder(ctx context.Context, sessionID string, num int) (*PipelineResult, error) {
	dir := filepath.Join(s.assetsDir, strconv.Itoa(num))
	imagesDir := filepath.Join(dir, "images")
	metadataDir := filepath.Join(dir, "metadata")

	imagesRootCID, err := s.packAndUpload(ctx, sessionID, "images", imagesDir, filepath.Join(dir, "images.car"))
	if err != nil {
		return nil, err
	}

	s.events.Publish(progress.Event{
		SessionID: sessionID,
		Stage:     progress.StageProcessing,
		FileType:  "metadata",
		Message:   "rewriting metadata records",
	})
	n, err := s.rewriter.Rewrite(metadataDir, imagesRootCID, func(name string, err error) {
		ev := progress.Event{
			SessionID: sessionID,
			Stage:     progress.StageProcessing,
			FileType:  "metadata",
			Message:   "rewrote " + name,
		}
		if err != nil {
			ev.Stage = progress.StageError
			ev.Message = fmt.Sprintf("rewriting %s: %v", name, err)
		}
		s.events.Publish(ev)
	})
	if err != nil {
		s.publishError(sessionID, err)
		return nil, err
	}
	s.events.Publish(progress.Event{
		SessionID: sessionID,
		Stage:     progress.StageProcessing,
		FileType:  "metadata",
		Message:   fmt.Sprintf("rewrote %d metadata records", n),
	})

	metadataRootCID, err := s.packAndUpload(ctx, sessionID, "metadata", metadataDir, filepath.Join(dir, "metadata.car"))
	if err != nil {
		return nil, err
	}

	if err := os.RemoveAll(dir); err != nil {
		log.Printf("folder %d: cleanup: %v", num, err)
	}

	s.lastRootCID.Store(metadataRootCID)
	log.Printf("folder %d processed: images=%s metadata=%s", num, imagesRootCID, metadataRootCID)

	res := &PipelineResult{
		Success:         true,
		ImagesRootCID:   imagesRootCID,
		MetadataRootCID: metadataRootCID,
		LastRootCID:     metadataRootCID,
	}
	s.events.Publish(progress.Event{
		SessionID: sessionID,
		Stage:     progress.StageComplete,
		Payload:   res,
	})
	return res, nil
}

// packAndUpload runs the pack and upload stages for one category folder
// and returns the archive's rootCID.
func (s *Service) packAndUpload(ctx context.Context, sessionID, fileType, folder, carPath string) (string, error) {
	s.events.Publish(progress.Event{
		SessionID: sessionID,
		Stage:     progress.StagePackaging,
		FileType:  fileType,
	})
	packed, err := s.packer.Pack(folder, carPath)
	if err != nil {
		s.publishError(sessionID, err)
		return "", err
	}
	log.Printf("packed %s for session %s: root %s", fileType, sessionID, packed.RootCID)

	s.events.Publish(progress.Event{
		SessionID: sessionID,
		Stage:     progress.StageUploading,
		FileType:  fileType,
	})
	etag, err := s.uploader.Upload(ctx, packed.CarPath, func(p storage.Progress) {
		s.events.Publish(progress.Event{
			SessionID: sessionID,
			Stage:     progress.StageUploading,
			FileType:  fileType,
			Payload:   p,
		})
	})
	if err != nil {
		s.publishError(sessionID, err)
		return "", err
	}
	log.Printf("uploaded %s for session %s: etag %s", fileType, sessionID, etag)

	return packed.RootCID, nil
}

// LastRootCID reports the most recent metadata rootCID. Advisory only; it
// carries no consistency guarantee across concurrent sessions.
func (s *Service) LastRootCID() string {
	v, _ := s.lastRootCID.Load().(string)
	return v
}

func (s *Service) publishError(sessionID string, err error) {
	s.events.Publish(progress.Event{
		SessionID: sessionID,
		Stage:     progress.StageError,
		Message:   err.Error(),
	})
}
