package bus

// crc8Table is the Dallas/Maxim CRC-8 lookup table (polynomial x^8+x^5+x^4+1,
// reflected 0x8c).
var crc8Table = func() [256]byte {
	var t [256]byte
	for i := range t {
		crc := byte(i)
		for bit := 0; bit < 8; bit++ {
			if crc&0x01 != 0 {
				crc = (crc >> 1) ^ 0x8c
			} else {
				crc >>= 1
			}
		}
		t[i] = crc
	}
	return t
}()

// CRC8 computes the one-wire CRC-8 of data.
func CRC8(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc = crc8Table[crc^b]
	}
	return crc
}
