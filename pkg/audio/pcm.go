package audio

import (
	"encoding/binary"
	"math"
)

const (
	bitsPerSample = 16
	wavHeaderSize = 44
)

// EncodeWAV wraps raw 16-bit signed little-endian PCM data in a standard
// RIFF/WAV container.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8
	dataSize := len(pcm)

	buf := make([]byte, wavHeaderSize+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// DecodeWAV extracts PCM16 samples from a RIFF/WAV file by walking its
// chunks. ok is false for anything that is not 16-bit PCM WAV.
func DecodeWAV(wav []byte) (pcm []byte, sampleRate, channels int, ok bool) {
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, 0, 0, false
	}
	var haveFmt bool
	for off := 12; off+8 <= len(wav); {
		id := string(wav[off : off+4])
		size := int(binary.LittleEndian.Uint32(wav[off+4 : off+8]))
		body := off + 8
		end := min(body+size, len(wav))
		switch id {
		case "fmt ":
			if end-body < 16 {
				return nil, 0, 0, false
			}
			if binary.LittleEndian.Uint16(wav[body:body+2]) != 1 ||
				binary.LittleEndian.Uint16(wav[body+14:body+16]) != bitsPerSample {
				return nil, 0, 0, false
			}
			channels = int(binary.LittleEndian.Uint16(wav[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(wav[body+4 : body+8]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, 0, 0, false
			}
			return wav[body:end], sampleRate, channels, true
		}
		// Chunks are word aligned.
		off = body + size + size%2
	}
	return nil, 0, 0, false
}

// RMS returns the root-mean-square energy of a 16-bit signed little-endian
// PCM buffer in sample units (0 to 32767). Returns 0 for buffers shorter than
// one sample.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono output.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(binary.LittleEndian.Uint16(pcm[i*4:])))
		r := int32(int16(binary.LittleEndian.Uint16(pcm[i*4+2:])))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16((l+r)/2)))
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation. If the rates match the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)
	sample := func(i int) float64 {
		return float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}

	for i := range dstSamples {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		s0 := sample(idx)
		s1 := s0
		if idx+1 < srcSamples {
			s1 = sample(idx + 1)
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s0*(1-frac)+s1*frac)))
	}
	return out
}
