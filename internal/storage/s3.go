// Package storage streams CAR archives to an S3-compatible object store.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dustin/go-humanize"
)

var ErrUpload = errors.New("upload error")

// Progress is one snapshot of a running transfer, published to live
// progress subscribers while the archive streams to the store.
type Progress struct {
	Transferred      int64   `json:"transferred"`
	Total            int64   `json:"total"`
	Percent          float64 `json:"percent"`
	ElapsedSeconds   float64 `json:"elapsedSeconds"`
	Speed            float64 `json:"speedBytesPerSec"`
	AvgSpeed         float64 `json:"avgSpeedBytesPerSec"`
	ETASeconds       float64 `json:"etaSeconds"`
	TransferredHuman string  `json:"transferredHuman"`
	TotalHuman       string  `json:"totalHuman"`
	SpeedHuman       string  `json:"speedHuman"`
}

type ProgressFunc func(Progress)

// Uploader puts local archives into one bucket using multipart transfer.
type Uploader struct {
	uploader *manager.Uploader
	bucket   string
	interval time.Duration
}

func NewUploader(client *s3.Client, bucket string, interval time.Duration) *Uploader {
	if interval <= 0 {
		interval = time.Second
	}
	return &Uploader{
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		interval: interval,
	}
}

type countingReader struct {
	r io.Reader
	n *atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}

// Upload streams the archive at carPath under its base name and returns
// the store's integrity tag. The local file is removed on every exit
// path, success or failure. There is no automatic retry.
func (u *Uploader) Upload(ctx context.Context, carPath string, onProgress ProgressFunc) (string, error) {
	defer func() {
		if err := os.Remove(carPath); err != nil && !os.IsNotExist(err) {
			log.Printf("upload cleanup: removing %s: %v", carPath, err)
		}
	}()

	info, err := os.Stat(carPath)
	if err != nil {
		return "", fmt.Errorf("%w: stat %s: %v", ErrUpload, carPath, err)
	}
	total := info.Size()

	f, err := os.Open(carPath)
	if err != nil {
		return "", fmt.Errorf("%w: open %s: %v", ErrUpload, carPath, err)
	}
	defer f.Close()

	var transferred atomic.Int64
	start := time.Now()
	done := make(chan struct{})
	if onProgress != nil {
		go reportProgress(&transferred, total, start, u.interval, onProgress, done)
	}

	key := filepath.Base(carPath)
	out, err := u.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(u.bucket),
		Key:      aws.String(key),
		Body:     &countingReader{r: f, n: &transferred},
		Metadata: map[string]string{"import": "car"},
	})
	close(done)
	if err != nil {
		return "", fmt.Errorf("%w: put %s: %v", ErrUpload, key, err)
	}

	if onProgress != nil {
		onProgress(snapshot(total, total, time.Since(start), 0))
	}
	return aws.ToString(out.ETag), nil
}

func reportProgress(transferred *atomic.Int64, total int64, start time.Time, interval time.Duration, onProgress ProgressFunc, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastBytes int64
	lastTime := start
	for {
		select {
		case <-done:
			return
		case now := <-ticker.C:
			cur := transferred.Load()
			window := now.Sub(lastTime).Seconds()
			var speed float64
			if window > 0 {
				speed = float64(cur-lastBytes) / window
			}
			onProgress(snapshot(cur, total, now.Sub(start), speed))
			lastBytes, lastTime = cur, now
		}
	}
}

func snapshot(cur, total int64, elapsed time.Duration, speed float64) Progress {
	p := Progress{
		Transferred:      cur,
		Total:            total,
		ElapsedSeconds:   elapsed.Seconds(),
		Speed:            speed,
		TransferredHuman: humanize.Bytes(uint64(cur)),
		TotalHuman:       humanize.Bytes(uint64(total)),
		SpeedHuman:       humanize.Bytes(uint64(speed)) + "/s",
	}
	if total > 0 {
		p.Percent = float64(cur) / float64(total) * 100
	}
	if elapsed > 0 {
		p.AvgSpeed = float64(cur) / elapsed.Seconds()
	}
	if p.AvgSpeed > 0 {
		p.ETASeconds = float64(total-cur) / p.AvgSpeed
	}
	return p
}
