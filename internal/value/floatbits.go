package value

import "math"

func floatToBits32(f float32) uint32 { return math.Float32bits(f) }
func bitsToFloat32(u uint32) float32 { return math.Float32frombits(u) }
func floatToBits64(f float64) uint64 { return math.Float64bits(f) }
func bitsToFloat64(u uint64) float64 { return math.Float64frombits(u) }
