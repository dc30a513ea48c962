package storage

import (
	"fmt"
	"io"

	seekable "github.com/SaveTheRbtz/zstd-seekable-format-go/pkg"
	"github.com/klauspost/compress/zstd"
)

// ZSTDStorage wraps another storage with seekable zstd compression so large
// mirrored snapshots can be served in ranges without full decompression.
type ZSTDStorage struct {
	storage SeekableStorage
	level   zstd.EncoderLevel
}

func NewZSTDStorage(storage SeekableStorage) *ZSTDStorage {
	return &ZSTDStorage{storage: storage, level: zstd.SpeedDefault}
}

func (z *ZSTDStorage) Writer(key string) (io.WriteCloser, error) {
	w, err := z.storage.Writer(key)
	if err != nil {
		return nil, err
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(z.level))
	if err != nil {
		w.Close()
		return nil, err
	}

	seekableWriter, err := seekable.NewWriter(w, encoder)
	if err != nil {
		w.Close()
		encoder.Close()
		return nil, err
	}

	return &zstdWriteCloser{
		seekableWriter: seekableWriter,
		underlying:     w,
		encoder:        encoder,
	}, nil
}

func (z *ZSTDStorage) Reader(key string) (io.ReadCloser, error) {
	return z.SeekableReader(key)
}

func (z *ZSTDStorage) Exists(key string) (bool, error) {
	return z.storage.Exists(key)
}

// Size reports the compressed size.
func (z *ZSTDStorage) Size(key string) (int64, error) {
	return z.storage.Size(key)
}

func (z *ZSTDStorage) Delete(key string) error {
	return z.storage.Delete(key)
}

func (z *ZSTDStorage) SeekableReader(key string) (ReadSeekCloser, error) {
	r, err := z.storage.SeekableReader(key)
	if err != nil {
		return nil, err
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		r.Close()
		return nil, err
	}

	seekableReader, err := seekable.NewReader(r, decoder)
	if err != nil {
		decoder.Close()
		r.Close()
		return nil, fmt.Errorf("open seekable zstd %s: %w", key, err)
	}

	return &zstdSeekableReader{
		seekableReader: seekableReader,
		underlying:     r,
		decoder:        decoder,
	}, nil
}

type zstdWriteCloser struct {
	seekableWriter seekable.Writer
	underlying     io.WriteCloser
	encoder        *zstd.Encoder
}

func (w *zstdWriteCloser) Write(p []byte) (n int, err error) {
	return w.seekableWriter.Write(p)
}

func (w *zstdWriteCloser) Close() error {
	// seek table is written on close
	if err := w.seekableWriter.Close(); err != nil {
		w.underlying.Close()
		return err
	}

	w.encoder.Close()

	return w.underlying.Close()
}

type zstdSeekableReader struct {
	seekableReader seekable.Reader
	underlying     io.ReadCloser
	decoder        *zstd.Decoder
}

func (r *zstdSeekableReader) Read(p []byte) (n int, err error) {
	return r.seekableReader.Read(p)
}

func (r *zstdSeekableReader) Seek(offset int64, whence int) (int64, error) {
	return r.seekableReader.Seek(offset, whence)
}

func (r *zstdSeekableReader) ReadAt(p []byte, off int64) (n int, err error) {
	return r.seekableReader.ReadAt(p, off)
}

func (r *zstdSeekableReader) Close() error {
	if err := r.seekableReader.Close(); err != nil {
		r.underlying.Close()
		return err
	}

	r.decoder.Close()

	return r.underlying.Close()
}
