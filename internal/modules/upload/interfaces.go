package upload

import (
	"context"

	"nftpack/internal/carpack"
	"nftpack/internal/modules/progress"
	"nftpack/internal/storage"
)

type Packer interface {
	Pack(folder, outCarPath string) (carpack.Result, error)
}

type Uploader interface {
	Upload(ctx context.Context, carPath string, onProgress storage.ProgressFunc) (string, error)
}

type Rewriter interface {
	Rewrite(folder, rootCID string, onFile func(name string, err error)) (int, error)
}

type Broadcaster interface {
	Publish(ev progress.Event)
}
