package sensors

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/i2c"
)

// crc8 is the Sensirion checksum: polynomial 0x31, init 0xFF.
func crc8(data []byte) byte {
	crc := byte(0xff)
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ 0x31
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// words splits a Sensirion response of 16-bit words each followed by a crc.
func words(r []byte) ([]uint16, error) {
	if len(r)%3 != 0 {
		return nil, fmt.Errorf("sensirion: response length %d", len(r))
	}
	out := make([]uint16, 0, len(r)/3)
	for i := 0; i < len(r); i += 3 {
		if crc8(r[i:i+2]) != r[i+2] {
			return nil, fmt.Errorf("%w at word %d", ErrCRC, i/3)
		}
		out = append(out, uint16(r[i])<<8|uint16(r[i+1]))
	}
	return out, nil
}

// withCRC encodes v big-endian followed by its crc.
func withCRC(v uint16) []byte {
	b := []byte{byte(v >> 8), byte(v)}
	return append(b, crc8(b))
}

// txDelay writes w, waits d and reads len(r) bytes. These parts NACK a read
// issued before the command completes.
func txDelay(dev *i2c.Dev, w, r []byte, d time.Duration) error {
	if len(w) > 0 {
		if err := dev.Tx(w, nil); err != nil {
			return fmt.Errorf("write: %w", err)
		}
	}
	if d > 0 {
		time.Sleep(d)
	}
	if len(r) > 0 {
		if err := dev.Tx(nil, r); err != nil {
			return fmt.Errorf("read: %w", err)
		}
	}
	return nil
}
