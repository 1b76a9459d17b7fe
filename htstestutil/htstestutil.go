// Copyright ©2024 The split-reads Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package htstestutil synthesizes small but structurally honest read
// container files for tests: BGZF-framed BAM, SAM text, FASTQ and
// CRAM with decodable read names.
package htstestutil

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/klauspost/compress/gzip"

	"github.com/TedBrookings/split-reads/bgzf"
	"github.com/TedBrookings/split-reads/cram"
)

// SAMHeaderText is the header used by all synthesized files.
const SAMHeaderText = "@HD\tVN:1.6\tSO:queryname\n@PG\tID:htstestutil\tPN:htstestutil\n"

// BAM returns a BGZF-framed BAM file holding one unmapped record per
// name, in order. When flushEvery is positive a block boundary is
// forced after every flushEvery records.
func BAM(names []string, flushEvery int) []byte {
	var buf bytes.Buffer
	w := bgzf.NewWriter(&buf)
	mustWrite(w, BAMHeader())
	for i, name := range names {
		mustWrite(w, BAMRecord(name))
		if flushEvery > 0 && (i+1)%flushEvery == 0 {
			if err := w.Flush(); err != nil {
				panic(err)
			}
		}
	}
	if err := w.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// BAMHeader returns the uncompressed BAM header prelude: magic,
// header text and an empty reference dictionary.
func BAMHeader() []byte {
	var b bytes.Buffer
	b.WriteString("BAM\x01")
	le32(&b, int32(len(SAMHeaderText)))
	b.WriteString(SAMHeaderText)
	le32(&b, 0) // n_ref
	return b.Bytes()
}

// BAMRecord returns the uncompressed wire form of one unmapped
// record with the given read name.
func BAMRecord(name string) []byte {
	var b bytes.Buffer
	le32(&b, int32(32+len(name)+1)) // block_size
	le32(&b, -1)                    // refID
	le32(&b, -1)                    // pos
	b.WriteByte(byte(len(name) + 1))
	b.WriteByte(0)   // mapq
	le16(&b, 0x4848) // bin
	le16(&b, 0)      // n_cigar_op
	le16(&b, 4)      // flag: unmapped
	le32(&b, 0)      // l_seq
	le32(&b, -1)     // next_refID
	le32(&b, -1)     // next_pos
	le32(&b, 0)      // tlen
	b.WriteString(name)
	b.WriteByte(0)
	return b.Bytes()
}

// SAM returns a SAM text file holding one unmapped record line per
// name.
func SAM(names []string) []byte {
	var b bytes.Buffer
	b.WriteString(SAMHeaderText)
	for _, name := range names {
		fmt.Fprintf(&b, "%s\t4\t*\t0\t0\t*\t*\t0\t0\t*\t*\n", name)
	}
	return b.Bytes()
}

// FASTQ returns a FASTQ file with one record per name, or an
// interleaved "/1" "/2" pair per name when paired is set.
func FASTQ(names []string, paired bool) []byte {
	var b bytes.Buffer
	for _, name := range names {
		if paired {
			fmt.Fprintf(&b, "@%s/1\nACGT\n+\nFFFF\n@%s/2\nTGCA\n+\nFFFF\n", name, name)
		} else {
			fmt.Fprintf(&b, "@%s\nACGT\n+\nFFFF\n", name)
		}
	}
	return b.Bytes()
}

// Gzip returns b compressed as a single gzip member.
func Gzip(b []byte) []byte {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	mustWrite(gz, b)
	if err := gz.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// BGZF returns b compressed as a BGZF stream with the terminating
// magic block.
func BGZF(b []byte) []byte {
	var buf bytes.Buffer
	w := bgzf.NewWriter(&buf)
	mustWrite(w, b)
	if err := w.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// CRAM returns a CRAM file whose i'th data container holds one
// record per name in containers[i], read names stored raw with
// BYTE_ARRAY_STOP encoding. When dropNames is set the preservation
// map records that names were not kept, exercising the degraded
// walking path.
func CRAM(containers [][]string, dropNames bool) []byte {
	var b bytes.Buffer
	// File definition.
	b.WriteString("CRAM")
	b.Write([]byte{3, 0})
	var id [20]byte
	copy(id[:], "htstestutil")
	b.Write(id[:])

	// File header container.
	text := []byte(SAMHeaderText)
	var hdr bytes.Buffer
	le32(&hdr, int32(len(text)))
	hdr.Write(text)
	b.Write(container(0, [][]byte{block(0, 0, hdr.Bytes())}))

	for _, names := range containers {
		b.Write(dataContainer(names, dropNames))
	}
	b.Write(cram.EOFMarker)
	return b.Bytes()
}

const rnExternalID = 1

// dataContainer builds one container: compression header, slice
// header and the RN external block.
func dataContainer(names []string, dropNames bool) []byte {
	var comp bytes.Buffer
	// Preservation map.
	var pres bytes.Buffer
	itf8(&pres, 1)
	pres.WriteString("RN")
	if dropNames {
		pres.WriteByte(0)
	} else {
		pres.WriteByte(1)
	}
	itf8(&comp, int32(pres.Len()))
	comp.Write(pres.Bytes())
	// Data series encoding map.
	var enc bytes.Buffer
	itf8(&enc, 1)
	enc.WriteString("RN")
	itf8(&enc, 5) // BYTE_ARRAY_STOP
	var params bytes.Buffer
	params.WriteByte(0) // stop byte
	itf8(&params, rnExternalID)
	itf8(&enc, int32(params.Len()))
	enc.Write(params.Bytes())
	itf8(&comp, int32(enc.Len()))
	comp.Write(enc.Bytes())
	// Empty tag encoding map.
	itf8(&comp, 1)
	itf8(&comp, 0)

	var slice bytes.Buffer
	itf8(&slice, -1)                // refID
	itf8(&slice, 0)                 // start
	itf8(&slice, 0)                 // span
	itf8(&slice, int32(len(names))) // nRec
	ltf8(&slice, 0)                 // record counter
	itf8(&slice, 1)                 // data blocks
	itf8(&slice, 1)                 // block id count
	itf8(&slice, rnExternalID)
	itf8(&slice, -1) // embedded reference
	slice.Write(make([]byte, 16))

	var rn bytes.Buffer
	for _, name := range names {
		rn.WriteString(name)
		rn.WriteByte(0)
	}

	blocks := [][]byte{
		block(1, 0, comp.Bytes()),
		block(2, 0, slice.Bytes()),
		block(4, rnExternalID, rn.Bytes()),
	}
	return container(len(names), blocks)
}

// container frames blocks with a container header carrying nRec
// records.
func container(nRec int, blocks [][]byte) []byte {
	data := bytes.Join(blocks, nil)
	var hdr bytes.Buffer
	le32(&hdr, int32(len(data)))
	itf8(&hdr, -1)          // refID
	itf8(&hdr, 0)           // start
	itf8(&hdr, 0)           // span
	itf8(&hdr, int32(nRec)) // records
	ltf8(&hdr, 0)           // record counter
	ltf8(&hdr, 0)           // bases
	itf8(&hdr, int32(len(blocks)))
	itf8(&hdr, 1) // landmark count
	itf8(&hdr, 0) // landmark: first slice at offset 0
	sum := crc32.ChecksumIEEE(hdr.Bytes())
	le32u(&hdr, sum)
	hdr.Write(data)
	return hdr.Bytes()
}

// block frames data as a raw-method block of the given type and
// content id.
func block(typ byte, contentID int32, data []byte) []byte {
	var b bytes.Buffer
	b.WriteByte(0) // raw method
	b.WriteByte(typ)
	itf8(&b, contentID)
	itf8(&b, int32(len(data)))
	itf8(&b, int32(len(data)))
	b.Write(data)
	sum := crc32.ChecksumIEEE(b.Bytes())
	le32u(&b, sum)
	return b.Bytes()
}

func itf8(b *bytes.Buffer, v int32) {
	u := uint32(v)
	switch {
	case u < 0x80:
		b.WriteByte(byte(u))
	case u < 0x4000:
		b.Write([]byte{byte(u>>8) | 0x80, byte(u)})
	case u < 0x200000:
		b.Write([]byte{byte(u>>16) | 0xc0, byte(u >> 8), byte(u)})
	case u < 0x10000000:
		b.Write([]byte{byte(u>>24) | 0xe0, byte(u >> 16), byte(u >> 8), byte(u)})
	default:
		b.Write([]byte{byte(u>>28) | 0xf0, byte(u >> 20), byte(u >> 12), byte(u >> 4), byte(u) & 0x0f})
	}
}

func ltf8(b *bytes.Buffer, v int64) {
	u := uint64(v)
	if u < 0x80 {
		b.WriteByte(byte(u))
		return
	}
	// Wider values are not needed by fixtures.
	panic("htstestutil: ltf8 value out of fixture range")
}

func le16(b *bytes.Buffer, v uint16) {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	b.Write(tmp[:])
}

func le32(b *bytes.Buffer, v int32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(v))
	b.Write(tmp[:])
}

func le32u(b *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	b.Write(tmp[:])
}

func mustWrite(w interface{ Write([]byte) (int, error) }, b []byte) {
	if _, err := w.Write(b); err != nil {
		panic(err)
	}
}
