package model

// ColorPack combines four 8-bit channels into the engine's ARGB word.
func ColorPack(a, r, g, b uint8) uint32 {
	return uint32(a)<<24 | uint32(r)<<16 | uint32(g)<<8 | uint32(b)
}

// ColorUnpack splits an ARGB word into its channels.
func ColorUnpack(argb uint32) (a, r, g, b uint8) {
	return uint8(argb >> 24), uint8(argb >> 16), uint8(argb >> 8), uint8(argb)
}
