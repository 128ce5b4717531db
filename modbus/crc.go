package modbus

// CRC16 computes the CRC-16/Modbus checksum of data: polynomial 0xA001
// (reversed 0x8005), initial value 0xFFFF, no final XOR. RTU frames carry
// the result low byte first.
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}

	return crc
}
