/*
   Copyright Mycophonic.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

//nolint:gosec // Integer conversions are bounded by MP4 atom sizes.
package mp4

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	gomp4 "github.com/abema/go-mp4"
)

// SampleInfo locates one encoded sample within the file.
type SampleInfo struct {
	Offset   uint64
	Size     uint32
	Duration uint32
}

// AudioTrack is what FindAudioTrack recovers from the first audio track.
type AudioTrack struct {
	Format       string
	ChannelCount uint16
	SampleSize   uint16
	// SampleRate is the raw 32-bit sample entry rate field (16.16 for
	// most entries).
	SampleRate uint32
	TimeScale  uint32

	// Descriptors is the esds payload after version and flags: the
	// descriptor tree an AAC magic cookie carries.
	Descriptors []byte
	// ALACSpecific and ChannelLayout are the payloads of the 'alac' and
	// 'chan' children of an ALAC entry.
	ALACSpecific  []byte
	ChannelLayout []byte

	Samples []SampleInfo
}

// Duration returns the summed sample durations in time-scale units.
func (t *AudioTrack) Duration() uint64 {
	var total uint64
	for _, sample := range t.Samples {
		total += uint64(sample.Duration)
	}

	return total
}

// box is the position and size of a parsed box header.
type box struct {
	offset     int64
	size       int64
	headerSize int64
	name       string
}

func (b box) payloadOffset() int64 { return b.offset + b.headerSize }
func (b box) payloadSize() int64   { return b.size - b.headerSize }
func (b box) end() int64           { return b.offset + b.size }

const (
	smallHeaderSize = 8
	largeHeaderSize = 16
	fullBoxSize     = 4 // version(1) + flags(3)
)

// boxReader walks a box tree over a seekable stream.
type boxReader struct {
	rs io.ReadSeeker
}

// header reads a box header at offset.
func (r boxReader) header(offset, limit int64) (box, error) {
	if _, err := r.rs.Seek(offset, io.SeekStart); err != nil {
		return box{}, fmt.Errorf("seeking to box at %d: %w", offset, err)
	}

	var raw [largeHeaderSize]byte
	if _, err := io.ReadFull(r.rs, raw[:smallHeaderSize]); err != nil {
		return box{}, fmt.Errorf("reading box header at %d: %w", offset, err)
	}

	found := box{offset: offset, headerSize: smallHeaderSize, name: string(raw[4:8])}

	switch size := binary.BigEndian.Uint32(raw[:4]); size {
	case 0:
		found.size = limit - offset
	case 1:
		if _, err := io.ReadFull(r.rs, raw[smallHeaderSize:]); err != nil {
			return box{}, fmt.Errorf("reading extended box header at %d: %w", offset, err)
		}

		found.headerSize = largeHeaderSize
		found.size = int64(binary.BigEndian.Uint64(raw[smallHeaderSize:]))
	default:
		found.size = int64(size)
	}

	if found.size < found.headerSize || found.end() > limit {
		return box{}, fmt.Errorf("%w: %q of %d bytes at offset %d", ErrInvalidBoxSize, found.name, found.size, offset)
	}

	return found, nil
}

// children calls visit for each direct child of parent until visit returns
// true. A truncated trailing header ends the walk quietly.
func (r boxReader) children(parent box, visit func(child box) (bool, error)) error {
	for pos := parent.payloadOffset(); pos < parent.end(); {
		child, err := r.header(pos, parent.end())
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}

			return err
		}

		stop, err := visit(child)
		if err != nil || stop {
			return err
		}

		pos = child.end()
	}

	return nil
}

// child returns the first direct child of parent named name.
func (r boxReader) child(parent box, name string) (box, bool, error) {
	var (
		found   box
		matched bool
	)

	err := r.children(parent, func(candidate box) (bool, error) {
		matched = candidate.name == name
		if matched {
			found = candidate
		}

		return matched, nil
	})

	return found, matched, err
}

// descend follows a path of box names from parent.
func (r boxReader) descend(parent box, path ...string) (box, bool, error) {
	current := parent

	for _, name := range path {
		next, found, err := r.child(current, name)
		if err != nil || !found {
			return box{}, false, err
		}

		current = next
	}

	return current, true, nil
}

// payload reads the whole payload of b.
func (r boxReader) payload(b box) ([]byte, error) {
	if _, err := r.rs.Seek(b.payloadOffset(), io.SeekStart); err != nil {
		return nil, fmt.Errorf("seeking to %q payload: %w", b.name, err)
	}

	data := make([]byte, b.payloadSize())
	if _, err := io.ReadFull(r.rs, data); err != nil {
		return nil, fmt.Errorf("reading %q payload: %w", b.name, err)
	}

	return data, nil
}

// unmarshal decodes the payload of b into dst with go-mp4.
func (r boxReader) unmarshal(b box, dst gomp4.IBox) error {
	if _, err := r.rs.Seek(b.payloadOffset(), io.SeekStart); err != nil {
		return fmt.Errorf("seeking to %q payload: %w", b.name, err)
	}

	if _, err := gomp4.Unmarshal(r.rs, uint64(b.payloadSize()), dst, gomp4.Context{}); err != nil {
		return fmt.Errorf("decoding %q: %w", b.name, err)
	}

	return nil
}

// FindAudioTrack locates the first track whose sample entry is an AAC or
// ALAC entry and returns its description and flat sample table.
func FindAudioTrack(rs io.ReadSeeker) (*AudioTrack, error) {
	fileEnd, err := rs.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("seeking to end: %w", err)
	}

	reader := boxReader{rs: rs}
	root := box{size: fileEnd}

	moov, found, err := reader.child(root, "moov")
	if err != nil {
		return nil, fmt.Errorf("reading container structure: %w", err)
	}

	if !found {
		return nil, ErrNoAudioTrack
	}

	var track *AudioTrack

	err = reader.children(moov, func(trak box) (bool, error) {
		if trak.name != "trak" {
			return false, nil
		}

		candidate, trackErr := reader.readTrack(trak)
		if trackErr != nil || candidate == nil {
			return false, trackErr
		}

		track = candidate

		return true, nil
	})
	if err != nil {
		return nil, err
	}

	if track == nil {
		return nil, ErrNoAudioTrack
	}

	return track, nil
}

// readTrack returns nil without error for tracks that are not audio tracks
// this package understands.
func (r boxReader) readTrack(trak box) (*AudioTrack, error) {
	mdia, found, err := r.child(trak, "mdia")
	if err != nil || !found {
		return nil, err
	}

	stbl, found, err := r.descend(mdia, "minf", "stbl")
	if err != nil || !found {
		return nil, err
	}

	stsd, found, err := r.child(stbl, "stsd")
	if err != nil || !found {
		return nil, err
	}

	track, err := r.readSampleEntry(stsd)
	if err != nil || track == nil {
		return nil, err
	}

	if mdhdBox, ok, findErr := r.child(mdia, "mdhd"); findErr == nil && ok {
		var mdhd gomp4.Mdhd
		if err := r.unmarshal(mdhdBox, &mdhd); err != nil {
			return nil, err
		}

		track.TimeScale = mdhd.Timescale
	}

	if track.Samples, err = r.sampleTable(stbl); err != nil {
		return nil, fmt.Errorf("building sample table: %w", err)
	}

	return track, nil
}

const (
	stsdPayloadHeader     = 8  // version(1) + flags(3) + entryCount(4)
	sampleEntryHeaderSize = 8  // size(4) + type(4)
	sampleEntryBaseSize   = 28 // reserved(6) + dataRefIdx(2) + AudioSampleEntry fields(20)
	sampleEntryV1Extra    = 16 // QuickTime sound description version 1
	sampleEntryV2Extra    = 36 // QuickTime sound description version 2
)

// readSampleEntry inspects the first recognised audio sample entry in stsd.
func (r boxReader) readSampleEntry(stsd box) (*AudioTrack, error) {
	data, err := r.payload(stsd)
	if err != nil {
		return nil, err
	}

	if len(data) < stsdPayloadHeader {
		return nil, nil
	}

	entryCount := binary.BigEndian.Uint32(data[4:8])
	pos := stsdPayloadHeader

	for range entryCount {
		if pos+sampleEntryHeaderSize > len(data) {
			break
		}

		size := int(binary.BigEndian.Uint32(data[pos:]))
		if size < sampleEntryHeaderSize || pos+size > len(data) {
			return nil, fmt.Errorf("%w: entry of %d bytes at %d", ErrInvalidEntry, size, pos)
		}

		entry := data[pos : pos+size]
		pos += size

		switch format := string(entry[4:8]); format {
		case FormatAAC, FormatAACHE, FormatALAC:
			return parseAudioEntry(format, entry)
		}
	}

	return nil, nil
}

func parseAudioEntry(format string, entry []byte) (*AudioTrack, error) {
	if len(entry) < sampleEntryHeaderSize+sampleEntryBaseSize {
		return nil, fmt.Errorf("%w: %s entry of %d bytes", ErrInvalidEntry, format, len(entry))
	}

	fields := entry[sampleEntryHeaderSize:]

	track := &AudioTrack{
		Format:       format,
		ChannelCount: binary.BigEndian.Uint16(fields[16:18]),
		SampleSize:   binary.BigEndian.Uint16(fields[18:20]),
		SampleRate:   binary.BigEndian.Uint32(fields[24:28]),
	}

	childStart := sampleEntryHeaderSize + sampleEntryBaseSize

	switch version := binary.BigEndian.Uint16(fields[8:10]); version {
	case 1:
		childStart += sampleEntryV1Extra
	case 2: //nolint:mnd // QuickTime v2
		childStart += sampleEntryV2Extra
	}

	if childStart > len(entry) {
		return nil, fmt.Errorf("%w: %s entry truncated", ErrInvalidEntry, format)
	}

	for children := entry[childStart:]; len(children) >= smallHeaderSize; {
		size := int(binary.BigEndian.Uint32(children))
		if size < smallHeaderSize+fullBoxSize || size > len(children) {
			break
		}

		payload := children[smallHeaderSize+fullBoxSize : size]

		switch string(children[4:8]) {
		case "esds":
			track.Descriptors = payload
		case FormatALAC:
			track.ALACSpecific = payload
		case "chan":
			track.ChannelLayout = payload
		}

		children = children[size:]
	}

	if format == FormatALAC && track.ALACSpecific == nil {
		return nil, fmt.Errorf("%w: ALAC entry without 'alac' config", ErrInvalidEntry)
	}

	if format != FormatALAC && track.Descriptors == nil {
		return nil, fmt.Errorf("%w: %s entry without esds", ErrInvalidEntry, format)
	}

	return track, nil
}

// sampleTable flattens stts, stsc, stsz and stco/co64 into one entry per sample.
func (r boxReader) sampleTable(stbl box) ([]SampleInfo, error) {
	offsets, err := r.chunkOffsets(stbl)
	if err != nil {
		return nil, err
	}

	var stsc gomp4.Stsc
	if err := r.unmarshalChild(stbl, "stsc", &stsc, ErrNoStsc); err != nil {
		return nil, err
	}

	var stsz gomp4.Stsz
	if err := r.unmarshalChild(stbl, "stsz", &stsz, ErrNoStsz); err != nil {
		return nil, err
	}

	var stts gomp4.Stts
	if err := r.unmarshalChild(stbl, "stts", &stts, nil); err != nil {
		return nil, err
	}

	count := int(stsz.SampleCount)
	if stsz.SampleSize == 0 && len(stsz.EntrySize) < count {
		return nil, fmt.Errorf("%w: %d sizes for %d samples", ErrInvalidTable, len(stsz.EntrySize), count)
	}

	samples := make([]SampleInfo, 0, count)

	for chunk, offset := range offsets {
		perChunk := samplesPerChunk(stsc.Entries, uint32(chunk+1)) // stsc chunks are 1-based

		for range perChunk {
			if len(samples) == count {
				break
			}

			size := stsz.SampleSize
			if size == 0 {
				size = stsz.EntrySize[len(samples)]
			}

			samples = append(samples, SampleInfo{Offset: offset, Size: size})
			offset += uint64(size)
		}
	}

	applyDurations(samples, stts.Entries)

	return samples, nil
}

func (r boxReader) chunkOffsets(stbl box) ([]uint64, error) {
	if stcoBox, found, err := r.child(stbl, "stco"); err == nil && found {
		var stco gomp4.Stco
		if err := r.unmarshal(stcoBox, &stco); err != nil {
			return nil, err
		}

		offsets := make([]uint64, len(stco.ChunkOffset))
		for idx, offset := range stco.ChunkOffset {
			offsets[idx] = uint64(offset)
		}

		return offsets, nil
	}

	var co64 gomp4.Co64
	if err := r.unmarshalChild(stbl, "co64", &co64, ErrNoChunkOffset); err != nil {
		return nil, err
	}

	return co64.ChunkOffset, nil
}

// unmarshalChild decodes the named child of parent into dst. A missing child
// is reported as missing, or ignored when missing is nil.
func (r boxReader) unmarshalChild(parent box, name string, dst gomp4.IBox, missing error) error {
	child, found, err := r.child(parent, name)
	if err != nil {
		return err
	}

	if !found {
		return missing
	}

	return r.unmarshal(child, dst)
}

// samplesPerChunk resolves a 1-based chunk number against the stsc runs.
func samplesPerChunk(entries []gomp4.StscEntry, chunk uint32) uint32 {
	var count uint32

	for _, entry := range entries {
		if entry.FirstChunk > chunk {
			break
		}

		count = entry.SamplesPerChunk
	}

	return count
}

func applyDurations(samples []SampleInfo, runs []gomp4.SttsEntry) {
	idx := 0

	for _, run := range runs {
		for range run.SampleCount {
			if idx == len(samples) {
				return
			}

			samples[idx].Duration = run.SampleDelta
			idx++
		}
	}
}
