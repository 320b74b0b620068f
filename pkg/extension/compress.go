package extension

import (
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/umputun/sqlbind/pkg/errcode"
	"github.com/umputun/sqlbind/pkg/sqlite"
)

// compressor is zstd_compress(data), owned by the connection and closed with it
type compressor struct {
	enc *zstd.Encoder
}

func (c *compressor) Call(data []byte) []byte {
	if data == nil {
		return nil
	}
	return c.enc.EncodeAll(data, make([]byte, 0, len(data)/2))
}

func (c *compressor) Close() error { return c.enc.Close() }

// decompressor is zstd_decompress(data)
type decompressor struct {
	dec *zstd.Decoder
}

func (d *decompressor) Call(data []byte) ([]byte, error) {
	if data == nil {
		return nil, nil
	}
	res, err := d.dec.DecodeAll(data, nil)
	if err != nil {
		return nil, errcode.Wrap(errcode.Corrupt, fmt.Errorf("can't decompress: %w", err))
	}
	if res == nil {
		res = []byte{}
	}
	return res, nil
}

func (d *decompressor) Close() { d.dec.Close() }

func registerCompress(c *sqlite.Conn) error {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("can't make zstd encoder: %w", err)
	}
	if err = sqlite.CreateFunction(c, "zstd_compress", &compressor{enc: enc}, sqlite.Deterministic()); err != nil {
		return err
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return fmt.Errorf("can't make zstd decoder: %w", err)
	}
	return sqlite.CreateFunction(c, "zstd_decompress", &decompressor{dec: dec}, sqlite.Deterministic())
}
