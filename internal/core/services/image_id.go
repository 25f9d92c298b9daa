package services

import (
	"crypto/md5" //nolint:gosec // identifier, not a security boundary
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/custodia-labs/dfdewey/internal/core/domain"
)

// imageIDPrefix is how much of an image is hashed to identify it.
const imageIDPrefix = 2 << 30

// ComputeImageID returns the hex MD5 of the first 2 GiB of the image.
// Identical evidence files get the same ID wherever they are stored.
func ComputeImageID(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("image %s: %w", path, domain.ErrNotFound)
		}
		return "", fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	h := md5.New() //nolint:gosec // see import
	if _, err := io.CopyN(h, f, imageIDPrefix); err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("hash image: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
