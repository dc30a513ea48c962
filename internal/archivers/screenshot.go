package archivers

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"

	"github.com/HugoSmits86/nativewebp"
)

// webpMaxDimension is the largest edge WebP can encode.
const webpMaxDimension = 16383

// selectImageFormat picks JPEG for images too tall for WebP, WebP otherwise.
func selectImageFormat(img image.Image, logWriter io.Writer) (string, string) {
	bounds := img.Bounds()
	height := bounds.Dy()
	width := bounds.Dx()

	if height > webpMaxDimension || width > webpMaxDimension {
		fmt.Fprintf(logWriter, "Image is large (%dx%d), using JPEG format\n", width, height)
		return ScreenshotJPEG, "jpeg"
	}
	fmt.Fprintf(logWriter, "Image dimensions (%dx%d), using WebP format\n", width, height)
	return ScreenshotWebP, "webp"
}

// writeScreenshot decodes a PNG screenshot and re-encodes it into dir as
// WebP or JPEG. It returns the written path.
func writeScreenshot(ctx context.Context, pngData []byte, dir string, logWriter io.Writer) (string, error) {
	img, err := png.Decode(bytes.NewReader(pngData))
	if err != nil {
		return "", fmt.Errorf("decode screenshot: %w", err)
	}
	fmt.Fprintf(logWriter, "Screenshot decoded, bounds: %v\n", img.Bounds())

	name, format := selectImageFormat(img, logWriter)
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}

	done := make(chan error, 1)
	go func() {
		if format == "jpeg" {
			done <- jpeg.Encode(f, img, &jpeg.Options{Quality: 85})
		} else {
			done <- nativewebp.Encode(f, img, nil)
		}
	}()

	select {
	case <-ctx.Done():
		// the encoder goroutine still owns f; let it finish before removing
		go func() {
			<-done
			f.Close()
			os.Remove(path)
		}()
		return "", ctx.Err()
	case err := <-done:
		closeErr := f.Close()
		if err == nil {
			err = closeErr
		}
		if err != nil {
			os.Remove(path)
			return "", fmt.Errorf("encode %s: %w", format, err)
		}
	}

	fmt.Fprintf(logWriter, "Screenshot %s encoding completed successfully\n", format)
	return path, nil
}
