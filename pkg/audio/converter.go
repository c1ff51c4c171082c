package audio

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"os/exec"
)

// DefaultChunkSize is 3200 bytes: 100ms of 16-bit 16kHz mono PCM, the
// largest media payload Exotel accepts per WebSocket frame.
const DefaultChunkSize = 3200

// ConvertMP3ToPCM converts MP3 audio to 16-bit PCM, 8kHz, mono using
// ffmpeg. Only needed when the TTS provider is configured with an mp3
// output format; pcm_* formats bypass conversion entirely.
func ConvertMP3ToPCM(mp3Data []byte) ([]byte, error) {
	if !hasFFmpeg() {
		return nil, fmt.Errorf("ffmpeg not available - audio conversion requires ffmpeg")
	}

	cmd := exec.Command("ffmpeg",
		"-i", "pipe:0",
		"-f", "s16le",
		"-ar", "8000",
		"-ac", "1",
		"-",
	)

	cmd.Stdin = bytes.NewReader(mp3Data)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &bytes.Buffer{}

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg conversion failed: %w", err)
	}

	return out.Bytes(), nil
}

func hasFFmpeg() bool {
	_, err := exec.LookPath("ffmpeg")
	return err == nil
}

// ChunkPCM splits PCM audio into chunks of chunkSize bytes. The final
// chunk may be shorter.
func ChunkPCM(pcmData []byte, chunkSize int) [][]byte {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	var chunks [][]byte
	for i := 0; i < len(pcmData); i += chunkSize {
		end := i + chunkSize
		if end > len(pcmData) {
			end = len(pcmData)
		}
		chunks = append(chunks, pcmData[i:end])
	}

	return chunks
}

// PCMToWAV wraps raw 16-bit mono PCM in a 44-byte WAV header so the
// transcription API accepts it as a file upload.
func PCMToWAV(pcmData []byte, sampleRate int) []byte {
	if sampleRate == 0 {
		sampleRate = 8000
	}
	bitsPerSample := 16
	channels := 1
	dataSize := len(pcmData)

	header := make([]byte, 44)
	copy(header[0:4], "RIFF")
	fileSize := uint32(36 + dataSize)
	header[4] = byte(fileSize)
	header[5] = byte(fileSize >> 8)
	header[6] = byte(fileSize >> 16)
	header[7] = byte(fileSize >> 24)
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	header[16] = 16
	header[20] = 1 // PCM
	header[22] = byte(channels)
	header[24] = byte(sampleRate)
	header[25] = byte(sampleRate >> 8)
	header[26] = byte(sampleRate >> 16)
	header[27] = byte(sampleRate >> 24)
	byteRate := uint32(sampleRate * channels * bitsPerSample / 8)
	header[28] = byte(byteRate)
	header[29] = byte(byteRate >> 8)
	header[30] = byte(byteRate >> 16)
	header[31] = byte(byteRate >> 24)
	blockAlign := uint16(channels * bitsPerSample / 8)
	header[32] = byte(blockAlign)
	header[33] = byte(blockAlign >> 8)
	header[34] = byte(bitsPerSample)
	copy(header[36:40], "data")
	header[40] = byte(dataSize)
	header[41] = byte(dataSize >> 8)
	header[42] = byte(dataSize >> 16)
	header[43] = byte(dataSize >> 24)

	wavData := make([]byte, 44+dataSize)
	copy(wavData[0:44], header)
	copy(wavData[44:], pcmData)
	return wavData
}

// EncodePCMChunkToBase64 encodes a PCM chunk for the Exotel media payload.
func EncodePCMChunkToBase64(pcmChunk []byte) string {
	return base64.StdEncoding.EncodeToString(pcmChunk)
}

// DecodeBase64PCM decodes a base64 media payload received from Exotel.
func DecodeBase64PCM(base64Data string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Data)
}

// StreamChunks reads raw PCM from r and invokes callback with chunks of
// at most chunkSize bytes as they become available. Used to forward a
// TTS response body to the caller without buffering the whole utterance.
// A callback error aborts the stream and is returned to the caller.
func StreamChunks(r io.Reader, chunkSize int, callback func([]byte) error) error {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	buffer := make([]byte, chunkSize)
	for {
		n, err := io.ReadFull(r, buffer)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buffer[:n])
			if cbErr := callback(chunk); cbErr != nil {
				return fmt.Errorf("callback error: %w", cbErr)
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read error: %w", err)
		}
	}
}
