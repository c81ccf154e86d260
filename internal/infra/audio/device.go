package audio

// Device describes one audio device as reported by ListDevices.
type Device struct {
	Index             int
	Name              string
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate float64
}

func (d Device) IsInput() bool  { return d.MaxInputChannels > 0 }
func (d Device) IsOutput() bool { return d.MaxOutputChannels > 0 }
