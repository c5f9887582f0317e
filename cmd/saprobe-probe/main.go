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

// Command saprobe-probe describes transcoder inputs and outputs: MP4 audio
// tracks, ADTS streams, magic cookies, and PCM files run through the
// dynamics compressor.
package main

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	transcode "github.com/mycophonic/saprobe-transcode"
	"github.com/mycophonic/saprobe-transcode/internal/mp4"
)

var (
	debug     = flag.Bool("debug", false, "Enable debug logging")
	cookieHex = flag.String("cookie", "", "Hex-encoded magic cookie to decode instead of files")
	threshold = flag.Float64("threshold", -20, "Compressor threshold (dB) for PCM inputs")
	ratio     = flag.Float64("ratio", 4, "Compressor ratio for PCM inputs")
	knee      = flag.Float64("knee", 6, "Compressor knee width (dB) for PCM inputs")
	attack    = flag.Float64("attack", 10, "Compressor attack (ms) for PCM inputs")
	release   = flag.Float64("release", 100, "Compressor release (ms) for PCM inputs")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] file...\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}

	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})

	if *debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	if *cookieHex != "" {
		if err := probeCookie(os.Stdout, *cookieHex); err != nil {
			logrus.WithError(err).Fatal("decoding cookie")
		}

		return
	}

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	failed := false

	for _, path := range flag.Args() {
		if err := probe(os.Stdout, path); err != nil {
			logrus.WithError(err).WithField("path", path).Error("probe failed")

			failed = true
		}
	}

	if failed {
		os.Exit(1)
	}
}

func probe(out io.Writer, path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".m4a", ".mp4":
		return probeMP4(out, path)
	case ".aac", ".adts":
		return probeADTS(out, path)
	default:
		return probePCM(out, path)
	}
}

func probeCookie(out io.Writer, text string) error {
	cookie, err := hex.DecodeString(strings.TrimSpace(text))
	if err != nil {
		return fmt.Errorf("parsing hex: %w", err)
	}

	if config, aacErr := transcode.ParseAACCookie(cookie); aacErr == nil {
		printAAC(out, config)

		return nil
	}

	config, err := transcode.ParseALACCookie(cookie)
	if err != nil {
		return err
	}

	printALAC(out, config)

	return nil
}

func probeMP4(out io.Writer, path string) error {
	file, err := os.Open(path) //nolint:gosec // user-supplied input
	if err != nil {
		return err
	}
	defer file.Close()

	track, err := mp4.FindAudioTrack(file)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s: %s track, %d channels, timescale %d, %d samples, %d units\n",
		path, track.Format, track.ChannelCount, track.TimeScale, len(track.Samples), track.Duration())

	if track.Format == mp4.FormatALAC {
		config, err := transcode.ParseALACCookie(track.ALACSpecific)
		if err != nil {
			return err
		}

		config.ChannelLayout = track.ChannelLayout

		printALAC(out, config)

		return nil
	}

	config, err := transcode.ParseAACCookie(track.Descriptors)
	if err != nil {
		return err
	}

	printAAC(out, config)

	return nil
}

func probeADTS(out io.Writer, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // user-supplied input
	if err != nil {
		return err
	}

	var (
		frames int
		first  transcode.ADTSHeader
	)

	for offset := 0; offset < len(data); frames++ {
		header, err := transcode.ParseADTSHeader(data[offset:])
		if err != nil {
			return fmt.Errorf("frame %d at byte %d: %w", frames, offset, err)
		}

		if frames == 0 {
			first = header
		}

		offset += int(header.FrameLength)
	}

	fmt.Fprintf(out, "%s: ADTS, %d frames, object type %d, rate index %d, channel config %d\n",
		path, frames, first.ObjectType, first.SamplingRateIndex, first.ChannelConfig)

	return nil
}

func probePCM(out io.Writer, path string) error {
	source, err := transcode.Open(path)
	if err != nil {
		return err
	}
	defer source.Close()

	compressor, err := transcode.NewCompressor(source, transcode.CompressorConfig{
		Threshold: *threshold,
		Ratio:     *ratio,
		Knee:      *knee,
		Attack:    *attack,
		Release:   *release,
	})
	if err != nil {
		return err
	}

	block := make([]byte, transcode.DefaultBlockFrames*compressor.Format().BytesPerFrame())

	var (
		frames  int64
		deepest float64
	)

	for {
		n, err := compressor.ReadFrames(block)
		frames += int64(n)

		if n > 0 {
			deepest = math.Min(deepest, compressor.GainReduction())
		}

		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return err
		}
	}

	fmt.Fprintf(out, "%s: %s, %d frames, deepest gain reduction %.2f dB\n",
		path, source.Format(), frames, deepest)

	return nil
}

func printAAC(out io.Writer, config transcode.DecoderSpecificConfig) {
	fmt.Fprintf(out, "  aac: object type %d, %d Hz (index %d), channel config %d (%d channels)\n",
		config.ObjectType, config.SamplingRate, config.SamplingRateIndex, config.ChannelConfig, config.ChannelCount())
}

func printALAC(out io.Writer, config transcode.ALACConfig) {
	fmt.Fprintf(out, "  alac: %d Hz, %d-bit, %d channels, frame length %d, layout %t\n",
		config.SampleRate, config.BitDepth, config.NumChannels, config.FrameLength, config.ChannelLayout != nil)
}
