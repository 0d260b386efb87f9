package convert

import (
	"bytes"
	"fmt"

	"github.com/wdvxdr1123/go-silk"
)

// Raw PCM produced by every decode stage and consumed by every encode stage.
// Decoder and encoder must agree on these or the output is corrupt.
const (
	SampleRate   = 24000
	Channels     = 1
	SampleFormat = "s16le"
)

var silkMagic = []byte("#!SILK_V3")

// IsSilk reports whether data starts with a SILK v3 header. Some messengers
// prefix the header with a single 0x02 byte.
func IsSilk(data []byte) bool {
	if len(data) > 0 && data[0] == 0x02 {
		data = data[1:]
	}
	return bytes.HasPrefix(data, silkMagic)
}

// Decoder turns SILK bytes into mono s16le PCM at the given rate.
type Decoder interface {
	Decode(data []byte, sampleRate int) ([]byte, error)
}

// SilkDecoder decodes in process with go-silk.
type SilkDecoder struct{}

func (SilkDecoder) Decode(data []byte, sampleRate int) (pcm []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("silk decoder panic: %v", r)
		}
	}()
	return silk.DecodeSilkBuffToPcm(data, sampleRate)
}
