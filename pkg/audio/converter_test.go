package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
	"testing"
)

func TestChunkPCM(t *testing.T) {
	tests := []struct {
		name      string
		dataLen   int
		chunkSize int
		wantLens  []int
	}{
		{
			name:      "even split",
			dataLen:   1280,
			chunkSize: 640,
			wantLens:  []int{640, 640},
		},
		{
			name:      "short final chunk",
			dataLen:   1500,
			chunkSize: 640,
			wantLens:  []int{640, 640, 220},
		},
		{
			name:      "single partial chunk",
			dataLen:   100,
			chunkSize: 640,
			wantLens:  []int{100},
		},
		{
			name:      "zero chunk size falls back to default",
			dataLen:   DefaultChunkSize + 1,
			chunkSize: 0,
			wantLens:  []int{DefaultChunkSize, 1},
		},
		{
			name:     "empty input",
			dataLen:  0,
			wantLens: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := ChunkPCM(make([]byte, tt.dataLen), tt.chunkSize)
			if len(chunks) != len(tt.wantLens) {
				t.Fatalf("got %d chunks, want %d", len(chunks), len(tt.wantLens))
			}
			for i, want := range tt.wantLens {
				if len(chunks[i]) != want {
					t.Errorf("chunk %d len = %d, want %d", i, len(chunks[i]), want)
				}
			}
		})
	}
}

func TestPCMToWAV_Header(t *testing.T) {
	pcm := make([]byte, 320)
	wav := PCMToWAV(pcm, 8000)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("wav len = %d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" {
		t.Errorf("missing RIFF marker, got %q", wav[0:4])
	}
	if string(wav[8:12]) != "WAVE" {
		t.Errorf("missing WAVE marker, got %q", wav[8:12])
	}
	if string(wav[36:40]) != "data" {
		t.Errorf("missing data marker, got %q", wav[36:40])
	}

	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != 8000 {
		t.Errorf("sample rate = %d, want 8000", rate)
	}
	if byteRate := binary.LittleEndian.Uint32(wav[28:32]); byteRate != 16000 {
		t.Errorf("byte rate = %d, want 16000", byteRate)
	}
	if channels := binary.LittleEndian.Uint16(wav[22:24]); channels != 1 {
		t.Errorf("channels = %d, want 1", channels)
	}
	if bits := binary.LittleEndian.Uint16(wav[34:36]); bits != 16 {
		t.Errorf("bits per sample = %d, want 16", bits)
	}
	if dataSize := binary.LittleEndian.Uint32(wav[40:44]); dataSize != 320 {
		t.Errorf("data size = %d, want 320", dataSize)
	}
}

func TestPCMToWAV_DefaultSampleRate(t *testing.T) {
	wav := PCMToWAV([]byte{0, 0}, 0)
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != 8000 {
		t.Errorf("sample rate = %d, want 8000 default", rate)
	}
}

func TestPCMToWAV_16kHz(t *testing.T) {
	wav := PCMToWAV([]byte{0, 0}, 16000)
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != 16000 {
		t.Errorf("sample rate = %d, want 16000", rate)
	}
	if byteRate := binary.LittleEndian.Uint32(wav[28:32]); byteRate != 32000 {
		t.Errorf("byte rate = %d, want 32000", byteRate)
	}
}

func TestStreamChunks(t *testing.T) {
	data := make([]byte, 1500)
	for i := range data {
		data[i] = byte(i % 251)
	}

	var got []byte
	var sizes []int
	err := StreamChunks(bytes.NewReader(data), 640, func(chunk []byte) error {
		got = append(got, chunk...)
		sizes = append(sizes, len(chunk))
		return nil
	})
	if err != nil {
		t.Fatalf("StreamChunks() error = %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("reassembled stream does not match input")
	}
	wantSizes := []int{640, 640, 220}
	if len(sizes) != len(wantSizes) {
		t.Fatalf("got %d chunks, want %d", len(sizes), len(wantSizes))
	}
	for i, want := range wantSizes {
		if sizes[i] != want {
			t.Errorf("chunk %d size = %d, want %d", i, sizes[i], want)
		}
	}
}

func TestStreamChunks_CallbackErrorAborts(t *testing.T) {
	data := make([]byte, 2000)
	calls := 0
	err := StreamChunks(bytes.NewReader(data), 640, func(chunk []byte) error {
		calls++
		return errors.New("socket closed")
	})
	if err == nil {
		t.Fatal("StreamChunks() expected error from callback")
	}
	if !strings.Contains(err.Error(), "socket closed") {
		t.Errorf("error = %v, want wrapped callback error", err)
	}
	if calls != 1 {
		t.Errorf("callback called %d times after error, want 1", calls)
	}
}

func TestStreamChunks_EmptyReader(t *testing.T) {
	calls := 0
	err := StreamChunks(bytes.NewReader(nil), 640, func(chunk []byte) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("StreamChunks() error = %v", err)
	}
	if calls != 0 {
		t.Errorf("callback called %d times for empty reader, want 0", calls)
	}
}

func TestBase64RoundTrip(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0xFF, 0x00, 0x7F}
	encoded := EncodePCMChunkToBase64(pcm)
	decoded, err := DecodeBase64PCM(encoded)
	if err != nil {
		t.Fatalf("DecodeBase64PCM() error = %v", err)
	}
	if !bytes.Equal(decoded, pcm) {
		t.Error("round trip mismatch")
	}
}

func TestDecodeBase64PCM_Invalid(t *testing.T) {
	if _, err := DecodeBase64PCM("not!!base64"); err == nil {
		t.Error("DecodeBase64PCM() expected error for invalid input")
	}
}
