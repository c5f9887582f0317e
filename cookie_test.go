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
	"encoding/binary"
	"errors"
	"testing"

	"github.com/bluenviron/mediacommon/pkg/codecs/mpeg4audio"

	transcode "github.com/mycophonic/saprobe-transcode"
)

// descriptor encodes one tag/size/payload node with a single-byte size.
func descriptor(tag byte, payload ...[]byte) []byte {
	body := bytes.Join(payload, nil)

	return append([]byte{tag, byte(len(body))}, body...)
}

// esdsCookie wraps dsi in an ES / DecoderConfig / DecSpecificInfo tree
// followed by an SL config descriptor, as AAC encoders emit it.
func esdsCookie(dsi []byte) []byte {
	decoderConfig := []byte{0x40, 0x15, 0, 0x18, 0, 0, 0x01, 0xF4, 0, 0, 0x01, 0xF4, 0}

	return descriptor(3,
		[]byte{0x00, 0x01, 0x00},
		descriptor(4, decoderConfig, descriptor(5, dsi)),
		descriptor(6, []byte{0x02}),
	)
}

// AAC-LC, 44100 Hz, stereo.
var dsiLC44100Stereo = []byte{0x12, 0x10}

func TestParseESDSCookieExtractsPayload(t *testing.T) {
	t.Parallel()

	got, err := transcode.ParseESDSCookie(esdsCookie(dsiLC44100Stereo))
	if err != nil {
		t.Fatalf("ParseESDSCookie: %v", err)
	}

	if !bytes.Equal(got, dsiLC44100Stereo) {
		t.Fatalf("payload = %x, want %x", got, dsiLC44100Stereo)
	}
}

func TestParseESDSCookieSkipsUnknownTags(t *testing.T) {
	t.Parallel()

	dsi := []byte{0x13, 0x90, 0x56, 0xE5, 0xA5, 0x48, 0x80}
	decoderConfig := make([]byte, 13)

	cookie := bytes.Join([][]byte{
		descriptor(0x7E, []byte{1, 2, 3, 4, 5}),
		{3, 3, 0, 1, 0},
		descriptor(0x10, nil),
		{4, 0x80, 0x80, 13 + 2 + byte(len(dsi))},
		decoderConfig,
		descriptor(0x42, bytes.Repeat([]byte{0xAA}, 9)),
		descriptor(5, dsi),
		descriptor(6, []byte{0x02}),
	}, nil)

	got, err := transcode.ParseESDSCookie(cookie)
	if err != nil {
		t.Fatalf("ParseESDSCookie: %v", err)
	}

	if !bytes.Equal(got, dsi) {
		t.Fatalf("payload = %x, want %x", got, dsi)
	}
}

func TestParseESDSCookieDoesNotAlias(t *testing.T) {
	t.Parallel()

	cookie := esdsCookie(dsiLC44100Stereo)

	got, err := transcode.ParseESDSCookie(cookie)
	if err != nil {
		t.Fatalf("ParseESDSCookie: %v", err)
	}

	got[0] = 0xFF

	again, err := transcode.ParseESDSCookie(cookie)
	if err != nil {
		t.Fatalf("ParseESDSCookie: %v", err)
	}

	if !bytes.Equal(again, dsiLC44100Stereo) {
		t.Fatalf("cookie was mutated through the returned payload: %x", again)
	}
}

func TestParseESDSCookieRejectsMalformed(t *testing.T) {
	t.Parallel()

	full := esdsCookie(dsiLC44100Stereo)

	cases := map[string][]byte{
		"empty":             nil,
		"no dsi":            descriptor(6, []byte{0x02}),
		"truncated size":    {3, 0x80, 0x80},
		"oversized varsize": {3, 0x80, 0x80, 0x80, 0x80, 0x01},
		"size past end":     {0x20, 0x40, 1, 2, 3},
		"truncated payload": full[:len(full)-5],
		"short es header":   {3, 3, 0, 1},
	}

	for name, cookie := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			if _, err := transcode.ParseESDSCookie(cookie); !errors.Is(err, transcode.ErrCookie) {
				t.Fatalf("err = %v, want ErrCookie", err)
			}
		})
	}
}

func TestParseDecoderSpecificConfigTable(t *testing.T) {
	t.Parallel()

	want := []uint32{
		96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050,
		16000, 12000, 11025, 8000, 7350, 0, 0,
	}

	for index, rate := range want {
		// objectType 2, index, channel config 2.
		dsi := []byte{0x10 | byte(index>>1), byte(index&1)<<7 | 0x10}

		config, err := transcode.ParseDecoderSpecificConfig(dsi)
		if err != nil {
			t.Fatalf("index %d: %v", index, err)
		}

		if config.SamplingRateIndex != uint8(index) || config.SamplingRate != rate {
			t.Fatalf("index %d: got index %d rate %d, want rate %d",
				index, config.SamplingRateIndex, config.SamplingRate, rate)
		}

		if config.ValidRate() != (rate != 0) {
			t.Fatalf("index %d: ValidRate = %t", index, config.ValidRate())
		}

		if config.ObjectType != 2 || config.ChannelConfig != 2 {
			t.Fatalf("index %d: object type %d channel config %d", index, config.ObjectType, config.ChannelConfig)
		}
	}
}

func TestParseDecoderSpecificConfigExplicitRate(t *testing.T) {
	t.Parallel()

	for _, rate := range []uint32{1, 44100, 50000, 0xABCDEF, 1<<24 - 1} {
		// 5 bits object type 2, 4 bits index 15, 24 bits rate, 4 bits channel config 1, 3 bits pad.
		packed := uint64(2)<<35 | uint64(15)<<31 | uint64(rate)<<7 | uint64(1)<<3

		var raw [8]byte
		binary.BigEndian.PutUint64(raw[:], packed<<24)

		config, err := transcode.ParseDecoderSpecificConfig(raw[:5])
		if err != nil {
			t.Fatalf("rate %d: %v", rate, err)
		}

		if config.SamplingRateIndex != 15 || config.SamplingRate != rate || config.ChannelConfig != 1 {
			t.Fatalf("rate %d: got %+v", rate, config)
		}
	}
}

func TestParseDecoderSpecificConfigTruncated(t *testing.T) {
	t.Parallel()

	for _, dsi := range [][]byte{nil, {0x12}, {0x17, 0x80, 0x00}} {
		if _, err := transcode.ParseDecoderSpecificConfig(dsi); !errors.Is(err, transcode.ErrCookie) {
			t.Fatalf("%x: err = %v, want ErrCookie", dsi, err)
		}
	}
}

func TestParseAACCookieMatchesMediacommon(t *testing.T) {
	t.Parallel()

	for _, dsi := range [][]byte{
		{0x12, 0x10}, // LC 44100 stereo
		{0x11, 0x90}, // LC 48000 stereo
		{0x13, 0x88}, // LC 22050 mono
		{0x12, 0x88}, // LC 32000 mono
		{0x11, 0xB0}, // LC 48000 5.1
	} {
		config, err := transcode.ParseAACCookie(esdsCookie(dsi))
		if err != nil {
			t.Fatalf("%x: %v", dsi, err)
		}

		var reference mpeg4audio.Config
		if err := reference.Unmarshal(dsi); err != nil {
			t.Fatalf("%x: mediacommon: %v", dsi, err)
		}

		if int(config.ObjectType) != int(reference.Type) || int(config.SamplingRate) != reference.SampleRate {
			t.Fatalf("%x: got type %d rate %d, mediacommon type %d rate %d",
				dsi, config.ObjectType, config.SamplingRate, reference.Type, reference.SampleRate)
		}

		if !bytes.Equal(config.Raw, dsi) {
			t.Fatalf("%x: raw = %x", dsi, config.Raw)
		}
	}
}

func TestChannelCount(t *testing.T) {
	t.Parallel()

	for channelConfig, want := range []int{0, 1, 2, 3, 4, 5, 6, 8, 0} {
		config := transcode.DecoderSpecificConfig{ChannelConfig: uint8(channelConfig)}
		if got := config.ChannelCount(); got != want {
			t.Fatalf("config %d: ChannelCount = %d, want %d", channelConfig, got, want)
		}
	}
}

// alacSpecific returns a 24-byte ALACSpecificConfig.
func alacSpecific(rate uint32, bitDepth, channels uint8) []byte {
	specific := make([]byte, 24)
	binary.BigEndian.PutUint32(specific[0:], 4096)
	specific[4] = 0
	specific[5] = bitDepth
	specific[6] = 40
	specific[7] = 10
	specific[8] = 14
	specific[9] = channels
	binary.BigEndian.PutUint16(specific[10:], 255)
	binary.BigEndian.PutUint32(specific[12:], 0)
	binary.BigEndian.PutUint32(specific[16:], 0)
	binary.BigEndian.PutUint32(specific[20:], rate)

	return specific
}

func atom(name string, payload ...[]byte) []byte {
	body := bytes.Join(payload, nil)
	out := binary.BigEndian.AppendUint32(nil, uint32(8+len(body)))

	return append(append(out, name...), body...)
}

func frmaWrapper() []byte {
	return append(atom("frma", []byte("alac")), 0, 0, 0, 36, 'a', 'l', 'a', 'c', 0, 0, 0, 0)
}

func chanAtom() []byte {
	return atom("chan", []byte{0, 0, 0, 0}, []byte{0, 0x65, 0, 2, 0, 0, 0, 0, 0, 0, 0, 0})
}

func TestParseALACCookieWrapperInvariant(t *testing.T) {
	t.Parallel()

	specific := alacSpecific(44100, 16, 2)

	bare, err := transcode.ParseALACCookie(specific)
	if err != nil {
		t.Fatalf("bare: %v", err)
	}

	wrapped, err := transcode.ParseALACCookie(append(frmaWrapper(), specific...))
	if err != nil {
		t.Fatalf("wrapped: %v", err)
	}

	if bare.Specific != wrapped.Specific || !bytes.Equal(bare.Specific[:], specific) {
		t.Fatalf("specific config differs: bare %x wrapped %x", bare.Specific, wrapped.Specific)
	}

	if bare.SampleRate != 44100 || bare.BitDepth != 16 || bare.NumChannels != 2 || bare.FrameLength != 4096 {
		t.Fatalf("decoded fields: %+v", bare)
	}

	if bare.ChannelLayout != nil || wrapped.ChannelLayout != nil {
		t.Fatalf("unexpected channel layout")
	}
}

func TestParseALACCookieChannelLayout(t *testing.T) {
	t.Parallel()

	specific := alacSpecific(48000, 24, 2)
	layout := chanAtom()

	for name, cookie := range map[string][]byte{
		"bare":    append(append([]byte{}, specific...), layout...),
		"wrapped": bytes.Join([][]byte{frmaWrapper(), specific, layout}, nil),
		"atom":    append(atom("alac", []byte{0, 0, 0, 0}, specific), layout...),
	} {
		config, err := transcode.ParseALACCookie(cookie)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}

		if !bytes.Equal(config.ChannelLayout, layout[12:]) {
			t.Fatalf("%s: layout = %x, want %x", name, config.ChannelLayout, layout[12:])
		}

		if !bytes.Equal(config.Specific[:], specific) {
			t.Fatalf("%s: specific = %x", name, config.Specific)
		}
	}
}

func TestParseALACCookieRejects(t *testing.T) {
	t.Parallel()

	badLayout := chanAtom()
	binary.BigEndian.PutUint32(badLayout, 20)

	unsupported := alacSpecific(44100, 16, 2)
	unsupported[4] = 1

	cases := map[string][]byte{
		"empty":         nil,
		"short":         alacSpecific(44100, 16, 2)[:23],
		"short wrapped": append(frmaWrapper(), alacSpecific(44100, 16, 2)[:20]...),
		"short atom":    atom("alac", []byte{0, 0, 0, 0}, alacSpecific(44100, 16, 2)[:10]),
		"bad layout":    append(alacSpecific(44100, 16, 2), badLayout...),
		"version":       unsupported,
	}

	for name, cookie := range cases {
		if _, err := transcode.ParseALACCookie(cookie); !errors.Is(err, transcode.ErrCookie) {
			t.Fatalf("%s: err = %v, want ErrCookie", name, err)
		}
	}
}
