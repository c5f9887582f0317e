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
	"os"

	"github.com/sirupsen/logrus"

	"github.com/mycophonic/saprobe-transcode/internal/mp4"
)

// MP4Options configures an AAC MP4 sink.
type MP4Options struct {
	// FourCC is the sample entry code, "mp4a" (default) or "aach". An "aach"
	// entry stores its rate field as rate<<17 instead of rate<<16.
	FourCC string
	Logger logrus.FieldLogger
}

// WithDefaults returns a copy with unset fields filled in.
func (o MP4Options) WithDefaults() MP4Options {
	if o.FourCC == "" {
		o.FourCC = mp4.FormatAAC
	}

	o.Logger = loggerOrDefault(o.Logger)

	return o
}

// MP4Sink writes encoded packets as the single audio track of an MP4 file.
type MP4Sink struct {
	file    *os.File
	muxer   *mp4.Muxer
	logger  logrus.FieldLogger
	packets int
	closed  bool
}

// NewMP4Sink creates path holding an AAC track described by cookie.
func NewMP4Sink(path string, cookie []byte, opts MP4Options) (*MP4Sink, error) {
	opts = opts.WithDefaults()

	if opts.FourCC != mp4.FormatAAC && opts.FourCC != mp4.FormatAACHE {
		return nil, fmt.Errorf("%w: sample entry %q", ErrConfig, opts.FourCC)
	}

	config, err := ParseAACCookie(cookie)
	if err != nil {
		return nil, err
	}

	if !config.ValidRate() {
		return nil, fmt.Errorf("%w: reserved sampling rate index %d", ErrCookie, config.SamplingRateIndex)
	}

	shift := 16
	if opts.FourCC == mp4.FormatAACHE {
		shift = 17
	}

	channels := uint16(2)
	if config.ChannelConfig == 1 {
		channels = 1
	}

	track := mp4.Track{
		Format:       opts.FourCC,
		ChannelCount: channels,
		SampleSize:   16, //nolint:mnd // nominal for compressed audio
		// The 32-bit field keeps the low bits of rate<<shift.
		SampleRate:          uint32(uint64(config.SamplingRate) << shift), //nolint:gosec // truncation is the stored form
		TimeScale:           config.SamplingRate,
		DecoderSpecificInfo: config.Raw,
	}

	return createMP4Sink(path, track, opts.Logger.WithFields(logrus.Fields{
		"path":  path,
		"track": opts.FourCC,
	}))
}

// NewALACSink creates path holding an ALAC track described by cookie.
func NewALACSink(path string, cookie []byte) (*MP4Sink, error) {
	config, err := ParseALACCookie(cookie)
	if err != nil {
		return nil, err
	}

	if config.SampleRate == 0 {
		return nil, fmt.Errorf("%w: ALAC config with zero sample rate", ErrCookie)
	}

	track := mp4.Track{
		Format:        mp4.FormatALAC,
		ChannelCount:  uint16(config.NumChannels),
		SampleSize:    uint16(config.BitDepth),
		SampleRate:    uint32(uint64(config.SampleRate) << 16), //nolint:gosec,mnd // 16.16 field, truncated
		TimeScale:     config.SampleRate,
		ALACSpecific:  config.Specific[:],
		ChannelLayout: config.ChannelLayout,
	}

	return createMP4Sink(path, track, logrus.WithFields(logrus.Fields{
		"path":  path,
		"track": mp4.FormatALAC,
	}))
}

// createMP4Sink opens the file and the muxer. On failure nothing is left
// behind on disk.
func createMP4Sink(path string, track mp4.Track, logger logrus.FieldLogger) (*MP4Sink, error) {
	if err := track.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCookie, err)
	}

	file, err := os.Create(path) //nolint:gosec // caller-chosen output path
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", path, err)
	}

	muxer, err := mp4.Create(file)
	if err == nil {
		err = muxer.SetTrack(track)
	}

	if err != nil {
		if discardErr := discard(file); discardErr != nil {
			logger.WithError(discardErr).Warn("discarding partial output")
		}

		return nil, fmt.Errorf("starting %s: %w", path, err)
	}

	logger.WithField("timescale", track.TimeScale).Debug("mp4 track opened")

	return &MP4Sink{file: file, muxer: muxer, logger: logger}, nil
}

// discard closes and removes a partially written file.
func discard(file *os.File) error {
	var closeErr, removeErr error

	if err := file.Close(); err != nil {
		closeErr = fmt.Errorf("closing %s: %w", file.Name(), err)
	}

	if err := os.Remove(file.Name()); err != nil {
		removeErr = fmt.Errorf("removing %s: %w", file.Name(), err)
	}

	return errors.Join(closeErr, removeErr)
}

// WritePacket appends p as one sample lasting p.Frames time-scale units.
func (s *MP4Sink) WritePacket(p Packet) error {
	if s.closed {
		return ErrClosed
	}

	if err := s.muxer.WriteSample(p.Data, p.Frames); err != nil {
		return fmt.Errorf("writing packet %d: %w", s.packets, err)
	}

	s.packets++

	return nil
}

// Close writes the movie box and closes the file. Closing twice is a no-op.
func (s *MP4Sink) Close() error {
	if s.closed {
		return nil
	}

	s.closed = true

	finalizeErr := s.muxer.Finalize()
	if finalizeErr != nil {
		finalizeErr = fmt.Errorf("finalizing %s: %w", s.file.Name(), finalizeErr)
	}

	var closeErr error
	if err := s.file.Close(); err != nil {
		closeErr = fmt.Errorf("closing %s: %w", s.file.Name(), err)
	}

	s.logger.WithField("packets", s.packets).Debug("mp4 track closed")

	return errors.Join(finalizeErr, closeErr)
}

// Abort closes and removes the file without writing the movie box. It is a
// no-op after Close.
func (s *MP4Sink) Abort() error {
	if s.closed {
		return nil
	}

	s.closed = true

	s.logger.WithField("packets", s.packets).Debug("mp4 track discarded")

	return discard(s.file)
}
