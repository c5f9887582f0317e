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
	"github.com/sirupsen/logrus"
)

// Packet is one encoded access unit and the number of PCM frames it covers.
type Packet struct {
	Data   []byte
	Frames uint32
}

// Sink receives encoded packets and writes them into a container.
//
// A sink is open once its constructor returns. Close flushes and releases the
// underlying resource; Abort releases it and discards what was written. Either
// is safe to call more than once, and once one has run the other is a no-op.
// WritePacket after Close or Abort returns ErrClosed.
type Sink interface {
	WritePacket(p Packet) error
	Close() error
	Abort() error
}

func loggerOrDefault(logger logrus.FieldLogger) logrus.FieldLogger {
	if logger == nil {
		return logrus.StandardLogger()
	}

	return logger
}
