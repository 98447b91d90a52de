package audio

// FromPCM16 converts little-endian 16-bit mono PCM to normalized float64
// samples in [-1, 1]. Capture adapters that deliver raw int16 buffers use
// this at the boundary so the rest of the pipeline only ever sees normalized
// samples. A trailing odd byte is ignored.
func FromPCM16(pcm []byte) []float64 {
	n := len(pcm) / 2
	out := make([]float64, n)
	for i := range n {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = float64(s) / 32768.0
	}
	return out
}

// FromInt16 converts int16 samples to normalized float64 samples in [-1, 1].
func FromInt16(samples []int16) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = float64(s) / 32768.0
	}
	return out
}
