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

package transcode_test

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	transcode "github.com/mycophonic/saprobe-transcode"
	"github.com/mycophonic/saprobe-transcode/internal/mp4"
)

func readTrack(t *testing.T, path string) (*mp4.AudioTrack, []byte) {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}

	track, err := mp4.FindAudioTrack(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("FindAudioTrack: %v", err)
	}

	return track, data
}

func TestMP4SinkAACTrack(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.m4a")

	sink, err := transcode.NewMP4Sink(path, esdsCookie(dsiLC44100Stereo), transcode.MP4Options{})
	if err != nil {
		t.Fatalf("NewMP4Sink: %v", err)
	}

	packets := []transcode.Packet{
		{Data: bytes.Repeat([]byte{0xA1}, 371), Frames: 1024},
		{Data: bytes.Repeat([]byte{0xB2}, 402), Frames: 1024},
		{Data: bytes.Repeat([]byte{0xC3}, 96), Frames: 512},
	}

	for _, packet := range packets {
		if err := sink.WritePacket(packet); err != nil {
			t.Fatalf("WritePacket: %v", err)
		}
	}

	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	track, data := readTrack(t, path)

	if string(data[4:12]) != "ftypM4A " {
		t.Fatalf("file starts with %q", data[4:12])
	}

	if track.Format != "mp4a" || track.ChannelCount != 2 || track.TimeScale != 44100 {
		t.Fatalf("track = %s, %d channels, timescale %d", track.Format, track.ChannelCount, track.TimeScale)
	}

	if track.SampleRate != 44100<<16 {
		t.Fatalf("sample entry rate = %#x, want %#x", track.SampleRate, 44100<<16)
	}

	config, err := transcode.ParseAACCookie(track.Descriptors)
	if err != nil {
		t.Fatalf("stored esds does not parse: %v", err)
	}

	if !bytes.Equal(config.Raw, dsiLC44100Stereo) {
		t.Fatalf("stored decoder-specific info = %x", config.Raw)
	}

	if len(track.Samples) != len(packets) {
		t.Fatalf("%d samples, want %d", len(track.Samples), len(packets))
	}

	for idx, sample := range track.Samples {
		got := data[sample.Offset : sample.Offset+uint64(sample.Size)]
		if !bytes.Equal(got, packets[idx].Data) || sample.Duration != packets[idx].Frames {
			t.Fatalf("sample %d: %d bytes lasting %d", idx, sample.Size, sample.Duration)
		}
	}

	if track.Duration() != 2560 {
		t.Fatalf("duration = %d, want 2560", track.Duration())
	}
}

func TestMP4SinkHERateField(t *testing.T) {
	t.Parallel()

	cases := []struct {
		dsi  []byte
		rate uint32
	}{
		{[]byte{0x13, 0x10}, 24000},                   // LC 24000 stereo
		{[]byte{0x11, 0x90}, 48000},                   // LC 48000 stereo
		{[]byte{0x10, 0x08}, 96000},                   // LC 96000 mono
		{[]byte{0x17, 0x80, 0x7A, 0x12, 0x08}, 62500}, // explicit rate, mono
	}

	for _, tc := range cases {
		path := filepath.Join(t.TempDir(), "he.m4a")

		sink, err := transcode.NewMP4Sink(path, esdsCookie(tc.dsi), transcode.MP4Options{FourCC: "aach"})
		if err != nil {
			t.Fatalf("%x: NewMP4Sink: %v", tc.dsi, err)
		}

		if err := sink.WritePacket(transcode.Packet{Data: []byte{1, 2, 3, 4}, Frames: 2048}); err != nil {
			t.Fatalf("%x: WritePacket: %v", tc.dsi, err)
		}

		if err := sink.Close(); err != nil {
			t.Fatalf("%x: Close: %v", tc.dsi, err)
		}

		track, _ := readTrack(t, path)

		if track.Format != "aach" || track.TimeScale != tc.rate {
			t.Fatalf("%x: format %s timescale %d", tc.dsi, track.Format, track.TimeScale)
		}

		if want := uint32(uint64(tc.rate) << 17); track.SampleRate != want {
			t.Fatalf("%x: sample entry rate = %#x, want %#x", tc.dsi, track.SampleRate, want)
		}
	}
}

func TestMP4SinkMonoChannelCount(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		dsi      []byte
		channels uint16
	}{
		{[]byte{0x12, 0x08}, 1}, // config 1
		{[]byte{0x12, 0x10}, 2}, // config 2
		{[]byte{0x11, 0xB0}, 2}, // config 6
		{[]byte{0x12, 0x00}, 2}, // config 0
	} {
		path := filepath.Join(t.TempDir(), "out.m4a")

		sink, err := transcode.NewMP4Sink(path, esdsCookie(tc.dsi), transcode.MP4Options{})
		if err != nil {
			t.Fatalf("%x: NewMP4Sink: %v", tc.dsi, err)
		}

		if err := sink.Close(); err != nil {
			t.Fatalf("%x: Close: %v", tc.dsi, err)
		}

		track, _ := readTrack(t, path)
		if track.ChannelCount != tc.channels {
			t.Fatalf("%x: channel count %d, want %d", tc.dsi, track.ChannelCount, tc.channels)
		}

		if len(track.Samples) != 0 {
			t.Fatalf("%x: empty track has %d samples", tc.dsi, len(track.Samples))
		}
	}
}

func TestALACSinkTrack(t *testing.T) {
	t.Parallel()

	specific := alacSpecific(96000, 24, 2)
	layout := chanAtom()

	for name, cookie := range map[string][]byte{
		"plain":  specific,
		"layout": append(append(frmaWrapper(), specific...), layout...),
	} {
		path := filepath.Join(t.TempDir(), name+".m4a")

		sink, err := transcode.NewALACSink(path, cookie)
		if err != nil {
			t.Fatalf("%s: NewALACSink: %v", name, err)
		}

		if err := sink.WritePacket(transcode.Packet{Data: bytes.Repeat([]byte{7}, 900), Frames: 4096}); err != nil {
			t.Fatalf("%s: WritePacket: %v", name, err)
		}

		if err := sink.Close(); err != nil {
			t.Fatalf("%s: Close: %v", name, err)
		}

		track, _ := readTrack(t, path)

		if track.Format != "alac" || track.TimeScale != 96000 || track.ChannelCount != 2 || track.SampleSize != 24 {
			t.Fatalf("%s: %+v", name, track)
		}

		if !bytes.Equal(track.ALACSpecific, specific) {
			t.Fatalf("%s: stored config = %x", name, track.ALACSpecific)
		}

		if name == "layout" && !bytes.Equal(track.ChannelLayout, layout[12:]) {
			t.Fatalf("%s: stored layout = %x", name, track.ChannelLayout)
		}

		if name == "plain" && track.ChannelLayout != nil {
			t.Fatalf("%s: unexpected layout %x", name, track.ChannelLayout)
		}

		reparsed, err := transcode.ParseALACCookie(track.ALACSpecific)
		if err != nil || reparsed.SampleRate != 96000 {
			t.Fatalf("%s: stored config does not reparse: %v", name, err)
		}
	}
}

func TestMP4SinkCloseTwice(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.m4a")

	sink, err := transcode.NewMP4Sink(path, esdsCookie(dsiLC44100Stereo), transcode.MP4Options{})
	if err != nil {
		t.Fatalf("NewMP4Sink: %v", err)
	}

	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	if err := sink.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if err := sink.WritePacket(transcode.Packet{Data: []byte{1}, Frames: 1}); !errors.Is(err, transcode.ErrClosed) {
		t.Fatalf("write after close: err = %v, want ErrClosed", err)
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	if !bytes.Equal(before, after) {
		t.Fatalf("second Close rewrote the file")
	}
}

func TestMP4SinkFailedConstructionLeavesNoFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	cases := map[string]func(path string) error{
		"aac cookie": func(path string) error {
			_, err := transcode.NewMP4Sink(path, []byte{0x05}, transcode.MP4Options{})

			return err
		},
		"reserved rate": func(path string) error {
			_, err := transcode.NewMP4Sink(path, esdsCookie([]byte{0x16, 0x90}), transcode.MP4Options{})

			return err
		},
		"alac cookie": func(path string) error {
			_, err := transcode.NewALACSink(path, alacSpecific(44100, 16, 2)[:12])

			return err
		},
	}

	for name, construct := range cases {
		path := filepath.Join(dir, name+".m4a")

		if err := construct(path); !errors.Is(err, transcode.ErrCookie) {
			t.Fatalf("%s: err = %v, want ErrCookie", name, err)
		}

		if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("%s: output exists after failed construction", name)
		}
	}

	_, err := transcode.NewMP4Sink(filepath.Join(dir, "x.m4a"), esdsCookie(dsiLC44100Stereo), transcode.MP4Options{FourCC: "alac"})
	if !errors.Is(err, transcode.ErrConfig) {
		t.Fatalf("bad fourcc: err = %v, want ErrConfig", err)
	}
}

func TestFindAudioTrackRejectsNonMP4(t *testing.T) {
	t.Parallel()

	_, err := mp4.FindAudioTrack(io.NewSectionReader(bytes.NewReader(make([]byte, 64)), 0, 64))
	if err == nil {
		t.Fatalf("FindAudioTrack accepted zeros")
	}
}
