// Copyright ©2024 The split-reads Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cram

import (
	"bytes"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz/lzma"
)

// ErrNamesUnavailable is returned by Names when the container does
// not store read names in a decodable form: names dropped by the
// writer, an RN encoding other than BYTE_ARRAY_STOP into an external
// block, or an external block compression method we cannot expand.
var ErrNamesUnavailable = errors.New("cram: read names unavailable")

// Encoding codec identifiers.
//
// See CRAM spec section 13.
const (
	nullCodec = iota
	externalCodec
	golombCodec
	huffmanCodec
	byteArrayLenCodec
	byteArrayStopCodec
)

// Names returns the read names of the container's records in record
// order. It consumes the container's block data and must be called
// before, and instead of, block iteration with Next.
func (c *Container) Names() ([][]byte, error) {
	if c.nRec == 0 {
		return nil, nil
	}
	var (
		cfg   *rnConfig
		names [][]byte
	)
	for c.Next() {
		b := c.Block()
		switch b.typ {
		case compressionHeader:
			var err error
			cfg, err = parseRNConfig(b)
			if err != nil {
				return nil, err
			}
		case externalData:
			if cfg == nil || b.contentID != cfg.externalID {
				continue
			}
			data, err := b.expand()
			if err != nil {
				return nil, err
			}
			for len(data) > 0 {
				i := bytes.IndexByte(data, cfg.stop)
				if i < 0 {
					names = append(names, data)
					break
				}
				names = append(names, data[:i])
				data = data[i+1:]
			}
		}
	}
	if err := c.Err(); err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("%w: no compression header", ErrCorrupt)
	}
	if len(names) != int(c.nRec) {
		return nil, fmt.Errorf("%w: %d names for %d records", ErrCorrupt, len(names), c.nRec)
	}
	return names, nil
}

// rnConfig is the decoded RN data series configuration.
type rnConfig struct {
	stop       byte
	externalID int32
}

// parseRNConfig extracts the RN series encoding from a compression
// header block: the preservation map RN flag and the data series
// encoding map RN entry.
func parseRNConfig(b *Block) (*rnConfig, error) {
	data, err := b.expand()
	if err != nil {
		return nil, err
	}
	er := errorReader{r: bytes.NewReader(data)}

	// Preservation map.
	er.itf8() // Size in bytes.
	n := er.itf8()
	namesStored := true
	for i := int32(0); i < n && er.err == nil; i++ {
		var key [2]byte
		io.ReadFull(&er, key[:])
		switch string(key[:]) {
		case "RN", "AP", "RR":
			v := er.readByte()
			if key == [2]byte{'R', 'N'} {
				namesStored = v != 0
			}
		case "SM":
			var sm [5]byte
			io.ReadFull(&er, sm[:])
		case "TD":
			l := er.itf8()
			io.CopyN(io.Discard, &er, int64(l))
		default:
			return nil, fmt.Errorf("%w: unknown preservation map key %q", ErrCorrupt, key)
		}
	}
	if er.err != nil {
		return nil, fmt.Errorf("%w: truncated preservation map", ErrCorrupt)
	}
	if !namesStored {
		return nil, fmt.Errorf("%w: names dropped by writer", ErrNamesUnavailable)
	}

	// Data series encoding map.
	er.itf8() // Size in bytes.
	n = er.itf8()
	for i := int32(0); i < n && er.err == nil; i++ {
		var key [2]byte
		io.ReadFull(&er, key[:])
		codec := er.itf8()
		plen := er.itf8()
		if key != [2]byte{'R', 'N'} {
			io.CopyN(io.Discard, &er, int64(plen))
			continue
		}
		if codec != byteArrayStopCodec {
			return nil, fmt.Errorf("%w: RN codec %d", ErrNamesUnavailable, codec)
		}
		stop := er.readByte()
		ext := er.itf8()
		if er.err != nil {
			return nil, fmt.Errorf("%w: truncated RN encoding", ErrCorrupt)
		}
		return &rnConfig{stop: stop, externalID: ext}, nil
	}
	if er.err != nil {
		return nil, fmt.Errorf("%w: truncated encoding map", ErrCorrupt)
	}
	return nil, fmt.Errorf("%w: no RN series", ErrNamesUnavailable)
}

// expand decompresses the block's data.
func (b *Block) expand() ([]byte, error) {
	switch b.method {
	case rawMethod:
		return b.blockData, nil
	case gzipMethod:
		gz, err := gzip.NewReader(bytes.NewReader(b.blockData))
		if err != nil {
			return nil, err
		}
		return io.ReadAll(gz)
	case bzip2Method:
		return io.ReadAll(bzip2.NewReader(bytes.NewReader(b.blockData)))
	case lzmaMethod:
		lz, err := lzma.NewReader(bytes.NewReader(b.blockData))
		if err != nil {
			return nil, err
		}
		return io.ReadAll(lz)
	default:
		return nil, fmt.Errorf("%w: block compression method %d", ErrNamesUnavailable, b.method)
	}
}
