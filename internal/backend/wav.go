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

package backend

import (
	"fmt"
	"io"
	"os"

	"github.com/cwbudde/wav"

	"github.com/mycophonic/saprobe-transcode/internal/pcm"
)

// WAVE format tags.
const (
	wavFormatPCM   = 0x0001
	wavFormatFloat = 0x0003
)

// WAV opens RIFF/WAVE files. The header is parsed by cwbudde/wav, which
// resolves WAVE_FORMAT_EXTENSIBLE to its sub-format tag; sample data is then
// served straight from the data chunk so seeking is exact.
type WAV struct{}

// Name implements Backend.
func (WAV) Name() string { return "wav" }

// Extensions implements Backend.
func (WAV) Extensions() []string { return []string{".wav", ".wave"} }

// Open implements Backend.
func (WAV) Open(path string) (Stream, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening wav: %w", err)
	}

	stream, err := openWAV(file)
	if err != nil {
		file.Close()

		return nil, err
	}

	return stream, nil
}

func openWAV(file *os.File) (Stream, error) {
	dec := wav.NewDecoder(file)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: not a wav file", ErrUnsupported)
	}

	if err := dec.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("locating wav data chunk: %w", err)
	}

	format := pcm.Format{
		SampleRate:     float64(dec.SampleRate),
		Channels:       int(dec.NumChans),
		BitsPerChannel: int(dec.BitDepth),
	}

	// An extensible chunk too short to carry a sub-format stays 0xFFFE and
	// falls through to the default case.
	switch dec.WavAudioFormat {
	case wavFormatPCM:
		format.Signed = dec.BitDepth > 8 //nolint:mnd // 8-bit wav is offset binary

		// Extensible PCM may carry fewer valid bits than its container; they
		// sit at the top of each sample.
		if valid := validBits(dec.FmtChunk); valid > 0 && valid < dec.BitDepth {
			format.BitsPerChannel = int(valid)
			format.BytesPerSample = (int(dec.BitDepth) + 7) / 8 //nolint:mnd // bits to bytes
		}
	case wavFormatFloat:
		format.Float = true
	default:
		return nil, fmt.Errorf("%w: wav format tag %#04x", ErrUnsupported, dec.WavAudioFormat)
	}

	if err := format.Validate(); err != nil {
		return nil, err
	}

	start, err := file.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("locating wav data offset: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat wav: %w", err)
	}

	// A zero or oversized data length (streamed files) means "until EOF".
	length := int64(dec.PCMSize)
	if length <= 0 || start+length > info.Size() {
		length = info.Size() - start
	}

	return newSectionStream(file, format, start, length), nil
}

func validBits(chunk *wav.FmtChunk) uint16 {
	if chunk == nil || chunk.Extensible == nil {
		return 0
	}

	return chunk.Extensible.ValidBitsPerSample
}
