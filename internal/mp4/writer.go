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

//nolint:gosec // Integer conversions are bounded by MP4 field widths.
package mp4

import (
	"fmt"
	"io"
	"math"

	gomp4 "github.com/abema/go-mp4"
)

// Sample entry four-character codes understood by the muxer and the reader.
const (
	FormatAAC   = "mp4a"
	FormatAACHE = "aach"
	FormatALAC  = "alac"
)

// Specification: ISO 14496-1, Tables 5 and 6.
const (
	objectTypeIndicationAudioISO14496part3 = 0x40
	streamTypeAudioStream                  = 0x05
)

const (
	trackID          = 1
	alacSpecificSize = 24
	alacLayoutSize   = 12
)

//nolint:gochecknoinits
func init() {
	// Audio sample entries beyond the ones go-mp4 ships with share the
	// AudioSampleEntry layout.
	gomp4.AddAnyTypeBoxDef(&gomp4.AudioSampleEntry{}, gomp4.StrToBoxType(FormatAACHE))
	gomp4.AddAnyTypeBoxDef(&gomp4.AudioSampleEntry{}, gomp4.StrToBoxType(FormatALAC))
}

// Track describes the single audio track of a movie.
type Track struct {
	// Format is the sample entry code: FormatAAC, FormatAACHE or FormatALAC.
	Format       string
	ChannelCount uint16
	SampleSize   uint16
	// SampleRate is the 32-bit sample entry rate field, written verbatim.
	SampleRate uint32
	// TimeScale is the media time scale; sample durations are in these units.
	TimeScale uint32

	// DecoderSpecificInfo is stored in the esds box of mp4a-family entries.
	DecoderSpecificInfo []byte
	MaxBitrate          uint32
	AvgBitrate          uint32

	// ALACSpecific (24 bytes) and the optional ChannelLayout (12 bytes) are
	// stored as 'alac' and 'chan' children of an ALAC entry.
	ALACSpecific  []byte
	ChannelLayout []byte
}

// Validate reports whether the track can be written.
func (t *Track) Validate() error {
	if t.TimeScale == 0 {
		return fmt.Errorf("%w: zero time scale", ErrInvalidTrack)
	}

	switch t.Format {
	case FormatAAC, FormatAACHE:
		if len(t.DecoderSpecificInfo) == 0 {
			return fmt.Errorf("%w: %s entry without decoder-specific info", ErrInvalidTrack, t.Format)
		}
	case FormatALAC:
		if len(t.ALACSpecific) != alacSpecificSize {
			return fmt.Errorf("%w: ALAC specific config of %d bytes", ErrInvalidTrack, len(t.ALACSpecific))
		}

		if t.ChannelLayout != nil && len(t.ChannelLayout) != alacLayoutSize {
			return fmt.Errorf("%w: ALAC channel layout of %d bytes", ErrInvalidTrack, len(t.ChannelLayout))
		}
	default:
		return fmt.Errorf("%w: unsupported sample entry %q", ErrInvalidTrack, t.Format)
	}

	return nil
}

// mdatHeaderSize is the compact box header; the whole 'mdat' box, header
// included, must fit its 32-bit size field.
const mdatHeaderSize = 8

// Muxer writes a single-track audio movie. Samples go to 'mdat' as they
// arrive; the 'moov' box is written by Finalize.
type Muxer struct {
	w     *gomp4.Writer
	track *Track

	dataStart uint64
	payload   uint64
	sizes     []uint32
	stts      []gomp4.SttsEntry
	duration  uint64
	finalized bool
}

// Create writes the file type box to ws and opens the media data box.
func Create(ws io.WriteSeeker) (*Muxer, error) {
	muxer := &Muxer{w: gomp4.NewWriter(ws)}

	err := muxer.writeBox(&gomp4.Ftyp{
		MajorBrand: [4]byte{'M', '4', 'A', ' '},
		CompatibleBrands: []gomp4.CompatibleBrandElem{
			{CompatibleBrand: [4]byte{'M', '4', 'A', ' '}},
			{CompatibleBrand: [4]byte{'m', 'p', '4', '2'}},
			{CompatibleBrand: [4]byte{'i', 's', 'o', 'm'}},
		},
	})
	if err != nil {
		return nil, err
	}

	if _, err := muxer.w.StartBox(&gomp4.BoxInfo{Type: gomp4.BoxTypeMdat()}); err != nil {
		return nil, fmt.Errorf("opening mdat: %w", err)
	}

	pos, err := muxer.w.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("locating mdat payload: %w", err)
	}

	muxer.dataStart = uint64(pos)

	return muxer, nil
}

// SetTrack sets the track description written by Finalize.
func (m *Muxer) SetTrack(track Track) error {
	if err := track.Validate(); err != nil {
		return err
	}

	m.track = &track

	return nil
}

// WriteSample appends one encoded sample lasting duration time-scale units.
func (m *Muxer) WriteSample(data []byte, duration uint32) error {
	if m.finalized {
		return ErrFinalized
	}

	if m.track == nil {
		return ErrNoTrack
	}

	if mdatHeaderSize+m.payload+uint64(len(data)) > math.MaxUint32 {
		return fmt.Errorf("%w: sample %d of %d bytes after %d", ErrTooLarge, len(m.sizes), len(data), m.payload)
	}

	if _, err := m.w.Write(data); err != nil {
		return fmt.Errorf("writing sample %d: %w", len(m.sizes), err)
	}

	m.payload += uint64(len(data))
	m.sizes = append(m.sizes, uint32(len(data)))
	m.duration += uint64(duration)

	if last := len(m.stts) - 1; last >= 0 && m.stts[last].SampleDelta == duration {
		m.stts[last].SampleCount++
	} else {
		m.stts = append(m.stts, gomp4.SttsEntry{SampleCount: 1, SampleDelta: duration})
	}

	return nil
}

// Samples returns the number of samples written so far.
func (m *Muxer) Samples() int { return len(m.sizes) }

// Finalize closes the media data box and writes the movie box.
// The muxer accepts no samples afterwards.
func (m *Muxer) Finalize() error {
	if m.finalized {
		return ErrFinalized
	}

	if m.track == nil {
		return ErrNoTrack
	}

	m.finalized = true

	if _, err := m.w.EndBox(); err != nil {
		return fmt.Errorf("closing mdat: %w", err)
	}

	return m.writeMoov()
}

func (m *Muxer) writeMoov() error {
	/*
		|moov|
		|    |mvhd|
		|    |trak|
		|    |    |tkhd|
		|    |    |mdia|
		|    |    |    |mdhd|
		|    |    |    |hdlr|
		|    |    |    |minf|
		|    |    |    |    |smhd|
		|    |    |    |    |dinf|
		|    |    |    |    |    |dref|
		|    |    |    |    |    |    |url|
		|    |    |    |    |stbl|
		|    |    |    |    |    |stsd|
		|    |    |    |    |    |    |mp4a| or |aach|
		|    |    |    |    |    |    |    |esds|
		|    |    |    |    |    |    |alac|
		|    |    |    |    |    |    |    |alac|
		|    |    |    |    |    |    |    |chan|
		|    |    |    |    |    |stts|
		|    |    |    |    |    |stsc|
		|    |    |    |    |    |stsz|
		|    |    |    |    |    |stco|
	*/
	steps := []func() error{
		func() error { return m.start(&gomp4.Moov{}) },
		m.writeMvhd,
		func() error { return m.start(&gomp4.Trak{}) },
		m.writeTkhd,
		func() error { return m.start(&gomp4.Mdia{}) },
		m.writeMdhd,
		func() error {
			return m.writeBox(&gomp4.Hdlr{HandlerType: [4]byte{'s', 'o', 'u', 'n'}, Name: "SoundHandler"})
		},
		func() error { return m.start(&gomp4.Minf{}) },
		func() error { return m.writeBox(&gomp4.Smhd{}) },
		m.writeDinf,
		func() error { return m.start(&gomp4.Stbl{}) },
		m.writeStsd,
		func() error { return m.writeBox(&gomp4.Stts{EntryCount: uint32(len(m.stts)), Entries: m.stts}) },
		m.writeStsc,
		func() error {
			return m.writeBox(&gomp4.Stsz{SampleCount: uint32(len(m.sizes)), EntrySize: m.sizes})
		},
		m.writeStco,
		m.end, // stbl
		m.end, // minf
		m.end, // mdia
		m.end, // trak
		m.end, // moov
	}

	for _, step := range steps {
		if err := step(); err != nil {
			return fmt.Errorf("writing moov: %w", err)
		}
	}

	return nil
}

func (m *Muxer) writeMvhd() error {
	mvhd := &gomp4.Mvhd{
		Timescale:   m.track.TimeScale,
		Rate:        0x10000,
		Volume:      0x100,
		Matrix:      unityMatrix(),
		NextTrackID: trackID + 1,
	}

	if m.duration > math.MaxUint32 {
		mvhd.SetVersion(1)
		mvhd.DurationV1 = m.duration
	} else {
		mvhd.DurationV0 = uint32(m.duration)
	}

	return m.writeBox(mvhd)
}

func (m *Muxer) writeTkhd() error {
	tkhd := &gomp4.Tkhd{
		FullBox: gomp4.FullBox{
			Flags: [3]byte{0, 0, 3},
		},
		TrackID:        trackID,
		AlternateGroup: 1,
		Volume:         0x100,
		Matrix:         unityMatrix(),
	}

	if m.duration > math.MaxUint32 {
		tkhd.SetVersion(1)
		tkhd.DurationV1 = m.duration
	} else {
		tkhd.DurationV0 = uint32(m.duration)
	}

	return m.writeBox(tkhd)
}

func (m *Muxer) writeMdhd() error {
	mdhd := &gomp4.Mdhd{
		Timescale: m.track.TimeScale,
		Language:  [3]byte{'u', 'n', 'd'},
	}

	if m.duration > math.MaxUint32 {
		mdhd.SetVersion(1)
		mdhd.DurationV1 = m.duration
	} else {
		mdhd.DurationV0 = uint32(m.duration)
	}

	return m.writeBox(mdhd)
}

func (m *Muxer) writeDinf() error {
	if err := m.start(&gomp4.Dinf{}); err != nil {
		return err
	}

	if err := m.start(&gomp4.Dref{EntryCount: 1}); err != nil {
		return err
	}

	err := m.writeBox(&gomp4.Url{
		FullBox: gomp4.FullBox{
			Flags: [3]byte{0, 0, 1},
		},
	})
	if err != nil {
		return err
	}

	if err := m.end(); err != nil { // dref
		return err
	}

	return m.end() // dinf
}

func (m *Muxer) writeStsd() error {
	if err := m.start(&gomp4.Stsd{EntryCount: 1}); err != nil {
		return err
	}

	err := m.start(&gomp4.AudioSampleEntry{
		SampleEntry: gomp4.SampleEntry{
			AnyTypeBox: gomp4.AnyTypeBox{
				Type: gomp4.StrToBoxType(m.track.Format),
			},
			DataReferenceIndex: 1,
		},
		ChannelCount: m.track.ChannelCount,
		SampleSize:   m.track.SampleSize,
		SampleRate:   m.track.SampleRate,
	})
	if err != nil {
		return err
	}

	if m.track.Format == FormatALAC {
		err = m.writeALACConfig()
	} else {
		err = m.writeEsds()
	}

	if err != nil {
		return err
	}

	if err := m.end(); err != nil { // sample entry
		return err
	}

	return m.end() // stsd
}

func (m *Muxer) writeEsds() error {
	dsi := m.track.DecoderSpecificInfo

	return m.writeBox(&gomp4.Esds{
		Descriptors: []gomp4.Descriptor{
			{
				Tag:  gomp4.ESDescrTag,
				Size: 32 + uint32(len(dsi)),
				ESDescriptor: &gomp4.ESDescriptor{
					ESID: trackID,
				},
			},
			{
				Tag:  gomp4.DecoderConfigDescrTag,
				Size: 18 + uint32(len(dsi)),
				DecoderConfigDescriptor: &gomp4.DecoderConfigDescriptor{
					ObjectTypeIndication: objectTypeIndicationAudioISO14496part3,
					StreamType:           streamTypeAudioStream,
					Reserved:             true,
					MaxBitrate:           m.track.MaxBitrate,
					AvgBitrate:           m.track.AvgBitrate,
				},
			},
			{
				Tag:  gomp4.DecSpecificInfoTag,
				Size: uint32(len(dsi)),
				Data: dsi,
			},
			{
				Tag:  gomp4.SLConfigDescrTag,
				Size: 1,
				Data: []byte{0x02},
			},
		},
	})
}

// writeALACConfig writes the 'alac' and optional 'chan' full boxes verbatim.
func (m *Muxer) writeALACConfig() error {
	if err := m.writeRawFullBox(FormatALAC, m.track.ALACSpecific); err != nil {
		return err
	}

	if m.track.ChannelLayout == nil {
		return nil
	}

	return m.writeRawFullBox("chan", m.track.ChannelLayout)
}

func (m *Muxer) writeRawFullBox(boxType string, payload []byte) error {
	if _, err := m.w.StartBox(&gomp4.BoxInfo{Type: gomp4.StrToBoxType(boxType)}); err != nil {
		return fmt.Errorf("starting %s: %w", boxType, err)
	}

	var versionFlags [4]byte

	if _, err := m.w.Write(versionFlags[:]); err != nil {
		return fmt.Errorf("writing %s: %w", boxType, err)
	}

	if _, err := m.w.Write(payload); err != nil {
		return fmt.Errorf("writing %s: %w", boxType, err)
	}

	return m.end()
}

// writeStsc describes mdat as a single chunk holding every sample.
func (m *Muxer) writeStsc() error {
	stsc := &gomp4.Stsc{}

	if len(m.sizes) > 0 {
		stsc.EntryCount = 1
		stsc.Entries = []gomp4.StscEntry{{
			FirstChunk:             1,
			SamplesPerChunk:        uint32(len(m.sizes)),
			SampleDescriptionIndex: 1,
		}}
	}

	return m.writeBox(stsc)
}

func (m *Muxer) writeStco() error {
	stco := &gomp4.Stco{}

	if len(m.sizes) > 0 {
		stco.EntryCount = 1
		stco.ChunkOffset = []uint32{uint32(m.dataStart)}
	}

	return m.writeBox(stco)
}

func (m *Muxer) start(box gomp4.IImmutableBox) error {
	if _, err := m.w.StartBox(&gomp4.BoxInfo{Type: box.GetType()}); err != nil {
		return fmt.Errorf("starting %s: %w", box.GetType(), err)
	}

	if _, err := gomp4.Marshal(m.w, box, gomp4.Context{}); err != nil {
		return fmt.Errorf("marshaling %s: %w", box.GetType(), err)
	}

	return nil
}

func (m *Muxer) end() error {
	if _, err := m.w.EndBox(); err != nil {
		return fmt.Errorf("ending box: %w", err)
	}

	return nil
}

func (m *Muxer) writeBox(box gomp4.IImmutableBox) error {
	if err := m.start(box); err != nil {
		return err
	}

	return m.end()
}

func unityMatrix() [9]int32 {
	return [9]int32{0x10000, 0, 0, 0, 0x10000, 0, 0, 0, 0x40000000}
}
