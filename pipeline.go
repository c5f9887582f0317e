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

package transcode

import (
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// DefaultBlockFrames is the number of frames pulled per read when
// Options.BlockFrames is unset.
const DefaultBlockFrames = 4096

// maxEmptyReads bounds consecutive reads that return neither frames nor an
// error before Run gives up with io.ErrNoProgress.
const maxEmptyReads = 100

// Encoder turns PCM blocks into encoded packets. Implementations wrap an
// external codec.
type Encoder interface {
	// MagicCookie returns the codec configuration a sink is built from.
	MagicCookie() []byte
	// Encode consumes frames interleaved frames from pcm. It may buffer
	// input and return no packets.
	Encode(pcm []byte, frames int) ([]Packet, error)
	// Flush drains any buffered input at end of stream.
	Flush() ([]Packet, error)
}

// FormatEncoder is implemented by encoders that accept a single input
// layout. Run checks it against the source before pulling frames.
type FormatEncoder interface {
	Encoder
	InputFormat() SampleFormat
}

// Options configures Run.
type Options struct {
	// BlockFrames is the number of frames pulled per read.
	BlockFrames int
	Logger      logrus.FieldLogger
}

// WithDefaults returns a copy with unset fields filled in.
func (o Options) WithDefaults() Options {
	if o.BlockFrames == 0 {
		o.BlockFrames = DefaultBlockFrames
	}

	o.Logger = loggerOrDefault(o.Logger)

	return o
}

// Stats summarizes a pipeline run.
type Stats struct {
	Frames  int64
	Packets int
	Bytes   int64
}

// Run pulls src to exhaustion through enc into sink. Before Run returns the
// sink is closed if the run succeeded and aborted otherwise, so a failed run
// never leaves a finalized container behind.
func Run(src Source, enc Encoder, sink Sink, opts Options) (stats Stats, err error) {
	opts = opts.WithDefaults()

	defer func() {
		if err != nil {
			if abortErr := sink.Abort(); abortErr != nil {
				err = errors.Join(err, fmt.Errorf("aborting sink: %w", abortErr))
			}

			return
		}

		if closeErr := sink.Close(); closeErr != nil {
			err = fmt.Errorf("closing sink: %w", closeErr)
		}
	}()

	format := src.Format()

	switch {
	case opts.BlockFrames < 0:
		return stats, fmt.Errorf("%w: block of %d frames", ErrConfig, opts.BlockFrames)
	case format.Validate() != nil:
		return stats, fmt.Errorf("%w: source format: %w", ErrConfig, format.Validate())
	}

	if typed, ok := enc.(FormatEncoder); ok && typed.InputFormat() != format {
		return stats, fmt.Errorf("%w: source delivers %s, encoder expects %s", ErrFormat, format, typed.InputFormat())
	}

	logger := opts.Logger.WithField("format", format.String())
	logger.Debug("pipeline started")

	block := make([]byte, opts.BlockFrames*format.BytesPerFrame())
	empty := 0

	for {
		frames, readErr := src.ReadFrames(block)

		if frames > 0 {
			empty = 0

			packets, encErr := enc.Encode(block[:frames*format.BytesPerFrame()], frames)
			if encErr != nil {
				return stats, fmt.Errorf("encoding at frame %d: %w", stats.Frames, encErr)
			}

			stats.Frames += int64(frames)

			if err := deliver(sink, packets, &stats); err != nil {
				return stats, err
			}
		}

		switch {
		case errors.Is(readErr, io.EOF):
			packets, flushErr := enc.Flush()
			if flushErr != nil {
				return stats, fmt.Errorf("flushing encoder: %w", flushErr)
			}

			if err := deliver(sink, packets, &stats); err != nil {
				return stats, err
			}

			logger.WithFields(logrus.Fields{
				"frames":  stats.Frames,
				"packets": stats.Packets,
				"bytes":   stats.Bytes,
			}).Debug("pipeline finished")

			return stats, nil
		case readErr != nil:
			return stats, fmt.Errorf("reading at frame %d: %w", stats.Frames, readErr)
		case frames == 0:
			empty++
			if empty >= maxEmptyReads {
				return stats, fmt.Errorf("reading at frame %d: %w", stats.Frames, io.ErrNoProgress)
			}
		}
	}
}

func deliver(sink Sink, packets []Packet, stats *Stats) error {
	for _, packet := range packets {
		if err := sink.WritePacket(packet); err != nil {
			return fmt.Errorf("writing packet %d: %w", stats.Packets, err)
		}

		stats.Packets++
		stats.Bytes += int64(len(packet.Data))
	}

	return nil
}
