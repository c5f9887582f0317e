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

import "errors"

// Public sentinel errors for consumer error matching.
var (
	// ErrConfig indicates invalid construction parameters
	// (compressor settings, pipeline options, unsupported sample format).
	ErrConfig = errors.New("invalid configuration")

	// ErrCookie indicates a magic cookie that is not one of the accepted shapes
	// (missing decoder-specific config, truncated descriptor, short ALAC config).
	ErrCookie = errors.New("malformed magic cookie")

	// ErrClosed indicates a write on a sink that has already been closed.
	ErrClosed = errors.New("sink closed")

	// ErrFrameTooLarge indicates an encoded frame that does not fit the
	// 13-bit ADTS frame length field.
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrNoBackend indicates that no decode backend handles the input.
	ErrNoBackend = errors.New("no decode backend")

	// ErrFormat indicates a sample format mismatch between stages.
	ErrFormat = errors.New("sample format mismatch")

	// ErrHeader indicates bytes that do not start with a valid ADTS header.
	ErrHeader = errors.New("malformed ADTS header")
)
