package audio

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/gordonklaus/portaudio"
)

func dev(name string, inputs int) *portaudio.DeviceInfo {
	return &portaudio.DeviceInfo{Name: name, MaxInputChannels: inputs}
}

func TestIsMicrophone(t *testing.T) {
	tests := []struct {
		device   string
		expected bool
	}{
		{"Built-in Microphone", true},
		{"External Mic", true},
		{"Line Input", true},
		{"MacBook Pro Microphone", true},
		{"BlackHole 2ch", false},
		{"Monitor of Built-in Audio", false},
		{"VB-Cable", false},
		{"External Speakers", false},
		{"HDMI Output", false},
	}

	for _, tt := range tests {
		t.Run(tt.device, func(t *testing.T) {
			if got := isMicrophone(tt.device); got != tt.expected {
				t.Errorf("isMicrophone(%q) = %v, want %v", tt.device, got, tt.expected)
			}
		})
	}
}

func TestSelectMicrophone(t *testing.T) {
	tests := []struct {
		name     string
		devices  []*portaudio.DeviceInfo
		excluded []string
		want     string
	}{
		{
			"prefers built-in",
			[]*portaudio.DeviceInfo{dev("USB Mic", 1), dev("MacBook Pro Microphone", 1)},
			nil,
			"MacBook Pro Microphone",
		},
		{
			"skips output-only",
			[]*portaudio.DeviceInfo{dev("Built-in Microphone", 0), dev("USB Mic", 1)},
			nil,
			"USB Mic",
		},
		{
			"skips excluded",
			[]*portaudio.DeviceInfo{dev("iPhone Microphone", 1), dev("Microsoft Teams Audio Input", 1), dev("Headset Mic", 1)},
			[]string{"iphone", "teams"},
			"Headset Mic",
		},
		{
			"skips loopback",
			[]*portaudio.DeviceInfo{dev("BlackHole 2ch Input", 2)},
			nil,
			"",
		},
		{"empty", nil, nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SelectMicrophone(tt.devices, tt.excluded)
			name := ""
			if got != nil {
				name = got.Name
			}
			if name != tt.want {
				t.Errorf("SelectMicrophone() = %q, want %q", name, tt.want)
			}
		})
	}
}

func TestContainsFold(t *testing.T) {
	tests := []struct {
		s        string
		substr   string
		expected bool
	}{
		{"BlackHole 2ch", "blackhole", true},
		{"blackhole", "BLACKHOLE", true},
		{"Built-in Microphone", "MICROPHONE", true},
		{"External Speakers", "blackhole", false},
		{"", "test", false},
		{"test", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.s+"_"+tt.substr, func(t *testing.T) {
			if got := containsFold(tt.s, tt.substr); got != tt.expected {
				t.Errorf("containsFold(%q, %q) = %v, want %v", tt.s, tt.substr, got, tt.expected)
			}
		})
	}
}

func TestPCM16FromBytes(t *testing.T) {
	got := PCM16FromBytes([]byte{0x01, 0x00, 0xff, 0xff, 0x7f})
	if len(got) != 2 || got[0] != 1 || got[1] != -1 {
		t.Errorf("PCM16FromBytes() = %v, want [1 -1]", got)
	}
}

func TestFloat32ToPCM16(t *testing.T) {
	got := Float32ToPCM16([]float32{0, 0.5, 1.5, -2})
	want := []int16{0, math.MaxInt16 / 2, math.MaxInt16, -math.MaxInt16}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestRMS(t *testing.T) {
	if got := RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v", got)
	}
	if got := RMS([]float32{0.5, -0.5, 0.5, -0.5}); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("RMS = %v, want 0.5", got)
	}
}

func TestEncodeWAV(t *testing.T) {
	data := EncodeWAV([]int16{1, 2, 3}, 16000)

	if len(data) != 44+6 {
		t.Fatalf("length = %d, want 50", len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" || string(data[36:40]) != "data" {
		t.Errorf("bad chunk ids: %q %q %q", data[0:4], data[8:12], data[36:40])
	}
	if rate := binary.LittleEndian.Uint32(data[24:28]); rate != 16000 {
		t.Errorf("sample rate = %d", rate)
	}
	if size := binary.LittleEndian.Uint32(data[40:44]); size != 6 {
		t.Errorf("data size = %d, want 6", size)
	}
	if s := int16(binary.LittleEndian.Uint16(data[44:])); s != 1 {
		t.Errorf("first sample = %d", s)
	}
}
