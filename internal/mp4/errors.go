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

package mp4

import "errors"

// MP4 container error sentinels.
//
//revive:disable:exported
var (
	ErrNoAudioTrack   = errors.New("mp4: no audio track found in container")
	ErrInvalidEntry   = errors.New("mp4: invalid audio sample entry")
	ErrInvalidBoxSize = errors.New("mp4: invalid box size")
	ErrNoChunkOffset  = errors.New("mp4: no chunk offset box (stco/co64)")
	ErrNoStsc         = errors.New("mp4: no stsc box")
	ErrNoStsz         = errors.New("mp4: no stsz box")
	ErrInvalidTable   = errors.New("mp4: invalid sample table")
	ErrNoTrack        = errors.New("mp4: track not set")
	ErrFinalized      = errors.New("mp4: muxer already finalized")
	ErrInvalidTrack   = errors.New("mp4: invalid track description")
	ErrTooLarge       = errors.New("mp4: media data exceeds 32-bit box size")
)
